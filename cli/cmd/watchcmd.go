package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/cli/tui"
)

// WatchCommand returns the watch command: a read-only TUI tailing the reply
// file. It never writes to either channel file, so it can run alongside a
// live session.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Tail a channel's reply file in an interactive view",
		Flags: append(ChannelFlags(),
			&cli.DurationFlag{
				Name:  "refresh",
				Usage: "Reply file refresh interval",
				Value: tui.DefaultRefreshInterval,
			},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	_, replyPath, err := resolveChannel(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	return tui.RunWatchTUI(replyPath, c.Duration("refresh"))
}
