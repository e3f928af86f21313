package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

// ShutdownCommand returns the shutdown command: it writes the exit sentinel
// as the session's final command. Exit produces no reply records, so the
// command returns as soon as the sentinel is on the command file.
func ShutdownCommand() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "Submit the exit sentinel to stop the executor loop",
		Flags: append(ChannelFlags(),
			&cli.IntFlag{
				Name:  "sequence",
				Usage: "Highest sequence already accepted by the executor",
			},
		),
		Action: shutdownAction,
	}
}

func shutdownAction(c *cli.Context) error {
	cl, err := buildClient(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if seq := c.Int("sequence"); seq > 0 {
		cl.Resume(seq)
	}

	if err := cl.Shutdown(context.Background()); err != nil {
		return cli.Exit(fmt.Sprintf("shutdown failed: %v", err), exitConfigError)
	}

	fmt.Fprintln(c.App.Writer, "exit sentinel sent")
	return nil
}
