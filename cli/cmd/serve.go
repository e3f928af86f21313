package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/retort-io/retort/adapter"
	"github.com/retort-io/retort/adapter/redis"
	"github.com/retort-io/retort/adapter/webhook"
	"github.com/retort-io/retort/cli/config"
	"github.com/retort-io/retort/engine"
	"github.com/retort-io/retort/engine/starlark"
	"github.com/retort-io/retort/executor"
	"github.com/retort-io/retort/iox"
	"github.com/retort-io/retort/journal"
	"github.com/retort-io/retort/log"
	"github.com/retort-io/retort/metrics"
	"github.com/retort-io/retort/types"
)

// ServeCommand returns the serve command: the executor loop entrypoint.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the executor loop against a channel",
		Flags: append(ChannelFlags(),
			&cli.StringFlag{
				Name:  "engine",
				Usage: "Execution engine: starlark or stub",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Command file polling interval",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Path to the exchange journal file (optional)",
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	commandPath, replyPath, err := resolveChannel(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	engineName := c.String("engine")
	if engineName == "" {
		engineName = cfg.Executor.Engine
	}
	eng, err := buildEngine(engineName)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	pollInterval := c.Duration("poll-interval")
	if pollInterval <= 0 {
		pollInterval = cfg.Executor.PollInterval.Duration
	}

	session := types.NewSessionMeta(types.RoleExecutor)
	logger := log.NewLogger(session)
	collector := metrics.NewCollector(session.SessionID, eng.Name())

	var journalWriter *journal.Writer
	journalPath := c.String("journal")
	if journalPath == "" {
		journalPath = cfg.Journal.Path
	}
	if journalPath != "" {
		journalWriter, err = journal.NewWriter(journalPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("open journal: %v", err), exitConfigError)
		}
		defer iox.DiscardClose(journalWriter)
	}

	completionAdapter, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitConfigError)
	}
	if completionAdapter != nil {
		defer iox.DiscardClose(completionAdapter)
	}

	loop, err := executor.New(executor.Config{
		CommandPath:  commandPath,
		ReplyPath:    replyPath,
		PollInterval: pollInterval,
		Engine:       eng,
		Session:      session,
		Logger:       logger,
		Collector:    collector,
		Journal:      journalWriter,
		Adapter:      completionAdapter,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("executor: %v", err), exitConfigError)
	}
	defer iox.DiscardClose(loop)

	// Stop the loop on SIGINT/SIGTERM. Cancellation is cooperative: an
	// in-flight instruction is reported before the loop notices.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runErr := loop.Run(ctx)
	printSnapshot(c, collector.Snapshot())

	if runErr != nil && runErr != context.Canceled {
		return cli.Exit(fmt.Sprintf("executor loop failed: %v", runErr), exitExecutionFault)
	}
	return nil
}

func printSnapshot(c *cli.Context, snap metrics.Snapshot) {
	fmt.Fprintf(c.App.Writer, "\nsession=%s engine=%s\n", snap.SessionID, snap.Engine)
	fmt.Fprintf(c.App.Writer, "accepted=%d succeeded=%d faulted=%d duplicates=%d malformed=%d replies=%d\n",
		snap.CommandsAccepted,
		snap.CommandsSucceeded,
		snap.CommandsFaulted,
		snap.DuplicatesIgnored,
		snap.MalformedPolls,
		snap.RepliesWritten,
	)
}

// buildEngine constructs the execution engine by name. Starlark is the
// default: a real engine with persistent state across instructions.
func buildEngine(name string) (engine.Engine, error) {
	switch name {
	case "", "starlark":
		return starlark.New(), nil
	case "stub":
		return engine.NewStub(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (must be starlark or stub)", name)
	}
}

// buildAdapter constructs the completion adapter from config. An empty
// adapter section means no publishing.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := func(fallback int) int {
		if cfg.Retries != nil {
			return *cfg.Retries
		}
		return fallback
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(redis.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", cfg.Type)
	}
}
