// Command statekit serves the document transition API and manages its
// schema and rules.
//
//	statekit migrate        apply the backend schema
//	statekit seed [-replace] register transition rules from RULES_FILE
//	statekit serve          run the HTTP API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/statekit/internal/api"
	"github.com/dmitrymomot/statekit/pkg/config"
	"github.com/dmitrymomot/statekit/pkg/httpserver"
	"github.com/dmitrymomot/statekit/pkg/logger"
	"github.com/dmitrymomot/statekit/pkg/requestid"
)

const usage = `usage: statekit <command> [flags]

commands:
  migrate          apply the backend schema
  seed [-replace]  register transition rules
  serve            run the HTTP API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithContextExtractors(requestid.Extractor()),
	)
	logger.SetAsDefault(log)

	if err := cfg.validate(); err != nil {
		log.Error("invalid configuration", logger.Error(err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1], os.Args[2:]); err != nil {
		log.Error("command failed", slog.String("command", os.Args[1]), logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "migrate", "seed", "serve":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	var replace bool
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	if cmd == "seed" {
		fs.BoolVar(&replace, "replace", false, "clear existing rules of the manifest's fields before registering")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v", cmd, fs.Args())
	}

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "migrate":
		if a.migrate == nil {
			log.InfoContext(ctx, "memory backend has no schema")
			return nil
		}
		return a.migrate(ctx)

	case "seed":
		return a.seed(ctx, replace)

	default:
		return serve(ctx, a)
	}
}

func serve(ctx context.Context, a *app) error {
	// In-memory rules do not survive restarts.
	if a.migrate == nil {
		if err := a.seed(ctx, false); err != nil {
			return err
		}
	}

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	router := api.Router(a.docs, api.RouterOptions{
		Logger:   a.log.With(logger.Component("api")),
		Checks:   a.checks,
		Gatherer: a.metrics,
	})

	err := httpserver.New(httpCfg, httpserver.WithLogger(a.log)).Run(ctx, router)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
