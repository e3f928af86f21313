package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/cli/render"
	"github.com/retort-io/retort/journal"
)

// JournalCommand returns the journal command: decode and render the
// exchange transcript written by a serve session.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:      "journal",
		Usage:     "Decode and render an exchange journal",
		ArgsUsage: "<journal-file>",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
		),
		Action: journalAction,
	}
}

func journalAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return cli.Exit("journal requires a file argument or a journal section in the config", exitConfigError)
	}

	records, err := journal.ReadAll(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("read journal: %v", err), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	return r.Render(records)
}
