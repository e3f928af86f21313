// Package main provides the retort-executor daemon entrypoint.
//
// A slim serve-only binary for the instrument host: it runs the executor
// loop and nothing else, so the full CLI does not have to be installed
// next to the instrument-control application.
//
// Usage:
//
//	retort-executor serve --command-file <path> --reply-file <path> [options]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/cli/cmd"
	"github.com/retort-io/retort/types"
)

var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "retort-executor",
		Usage:          "Executor loop daemon for the file-channel protocol",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
