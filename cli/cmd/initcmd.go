package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/channel"
)

// InitCommand returns the init command: the channel initializer. Run it
// once at session start, before the executor loop and any client.
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize a channel: reset both files to a known-clean state",
		Flags:  ChannelFlags(),
		Action: initAction,
	}
}

func initAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	commandPath, replyPath, err := resolveChannel(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	if err := channel.Init(commandPath, replyPath); err != nil {
		// Init fails loudly and is never retried: an unwritable channel
		// path means the session must not start.
		return cli.Exit(fmt.Sprintf("channel init failed: %v", err), exitConfigError)
	}

	fmt.Fprintf(c.App.Writer, "channel initialized: %s, %s\n", commandPath, replyPath)
	return nil
}
