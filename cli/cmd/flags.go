// Package cmd provides CLI commands for the retort binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/cli/config"
)

// Exit codes for commands that drive the channel.
const (
	exitSuccess        = 0
	exitExecutionFault = 1
	exitTimeout        = 2
	exitConfigError    = 3
)

// defaultConfigPath is consulted when --config is not given.
const defaultConfigPath = "retort.yaml"

// Shared flags.
var (
	// ConfigFlag points at a retort.yaml config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to retort.yaml config file",
	}

	// CommandFileFlag overrides the channel command file path.
	CommandFileFlag = &cli.StringFlag{
		Name:  "command-file",
		Usage: "Path to the shared command file",
	}

	// ReplyFileFlag overrides the channel reply file path.
	ReplyFileFlag = &cli.StringFlag{
		Name:  "reply-file",
		Usage: "Path to the shared reply file",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ChannelFlags returns the flags every channel-touching command shares.
func ChannelFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		CommandFileFlag,
		ReplyFileFlag,
	}
}

// ReadOnlyFlags returns the shared flags for read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// loadConfig resolves the effective config file. An explicit --config that
// cannot be loaded is an error; the implicit default path is optional.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	}
	return &config.Config{}, nil
}

// resolveChannel determines the channel file paths: flags override config.
func resolveChannel(c *cli.Context, cfg *config.Config) (commandPath, replyPath string, err error) {
	commandPath = c.String("command-file")
	if commandPath == "" {
		commandPath = cfg.Channel.CommandFile
	}
	replyPath = c.String("reply-file")
	if replyPath == "" {
		replyPath = cfg.Channel.ReplyFile
	}
	if commandPath == "" || replyPath == "" {
		return "", "", fmt.Errorf("channel paths required: set --command-file and --reply-file or the channel section of %s", defaultConfigPath)
	}
	return commandPath, replyPath, nil
}
