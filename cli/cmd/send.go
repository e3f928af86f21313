package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/client"
)

// SendCommand returns the send command: a one-shot client submission.
//
// Exit codes:
//   - 0: DONE observed, result printed
//   - 1: ERROR observed (execution fault)
//   - 2: timeout (outcome unknown, the executor may still complete it)
//   - 3: configuration error
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Submit one instruction and wait for its handshake",
		ArgsUsage: "<instruction...>",
		Flags: append(ChannelFlags(),
			&cli.DurationFlag{
				Name:  "ack-timeout",
				Usage: "Wait for the ACK record",
			},
			&cli.DurationFlag{
				Name:  "exec-timeout",
				Usage: "Wait from ACK to DONE or ERROR",
			},
			&cli.IntFlag{
				Name:  "sequence",
				Usage: "Starting sequence number (defaults to 0, first command is 1)",
			},
		),
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("send requires an instruction argument", exitConfigError)
	}
	instruction := strings.Join(c.Args().Slice(), " ")

	cl, err := buildClient(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if seq := c.Int("sequence"); seq > 0 {
		cl.Resume(seq)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	value, err := cl.Submit(ctx, instruction)
	if err != nil {
		var fault *client.ExecutionFault
		if errors.As(err, &fault) {
			fmt.Fprintln(os.Stderr, fault.Diagnostic)
			return cli.Exit("", exitExecutionFault)
		}
		if client.IsTimeout(err) {
			return cli.Exit(err.Error(), exitTimeout)
		}
		return cli.Exit(err.Error(), exitConfigError)
	}

	fmt.Fprintln(c.App.Writer, value)
	return nil
}

// buildClient constructs a client driver from flags and config.
func buildClient(c *cli.Context) (*client.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	commandPath, replyPath, err := resolveChannel(c, cfg)
	if err != nil {
		return nil, err
	}

	config := client.Config{
		CommandPath:  commandPath,
		ReplyPath:    replyPath,
		PollInterval: cfg.Client.PollInterval.Duration,
		AckTimeout:   cfg.Client.AckTimeout.Duration,
		ExecTimeout:  cfg.Client.ExecTimeout.Duration,
	}
	if cfg.Client.SendRetries != nil {
		config.SendRetries = *cfg.Client.SendRetries
	}
	if d := c.Duration("ack-timeout"); d > 0 {
		config.AckTimeout = d
	}
	if d := c.Duration("exec-timeout"); d > 0 {
		config.ExecTimeout = d
	}

	return client.New(config)
}
