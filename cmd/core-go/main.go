package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cfgvault/core-go/internal/backupworker"
	"cfgvault/core-go/internal/config"
	"cfgvault/core-go/internal/db"
	"cfgvault/core-go/internal/dnac"
	"cfgvault/core-go/internal/httpapi"
	"cfgvault/core-go/internal/metrics"
	"cfgvault/core-go/internal/restconf"
	"cfgvault/core-go/internal/scheduler"
	"cfgvault/core-go/internal/search"
	"cfgvault/core-go/internal/supervisor"
	"cfgvault/core-go/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := httpapi.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("core-go stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, logger zerolog.Logger, cfg *config.Config) error {
	pool, err := db.Open(ctx, cfg.Database.URL, db.Options{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	queries := pool.Queries()

	m := metrics.New()

	anchor := transport.TrustAnchor{CAFile: cfg.TLS.CAFile, InsecureSkipVerify: cfg.TLS.InsecureSkipVerify}
	if anchor.InsecureSkipVerify {
		logger.Warn().Msg("TLS verification disabled for controller and device connections")
	}
	ctrlHTTP, err := transport.NewClient(anchor, cfg.Controller.Timeout)
	if err != nil {
		return fmt.Errorf("controller transport: %w", err)
	}
	deviceHTTP, err := transport.NewClient(anchor, cfg.Restconf.Timeout)
	if err != nil {
		return fmt.Errorf("restconf transport: %w", err)
	}

	controllers := dnac.New(logger.With().Str("component", "dnac").Logger(), dnac.Options{
		HTTPClient: ctrlHTTP,
		Poll: dnac.PollPolicy{
			Delay:       cfg.Poll.Delay,
			MaxDelay:    cfg.Poll.MaxDelay,
			MaxAttempts: cfg.Poll.MaxAttempts,
			Backoff:     cfg.Poll.Backoff,
		},
		MaxFailures:      cfg.Breaker.MaxFailures,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		HalfOpenRequests: backupworker.DefaultWorkers,
	})
	devices := restconf.New(logger.With().Str("component", "restconf").Logger(), deviceHTTP, cfg.Restconf.Timeout)

	runner := backupworker.New(
		logger.With().Str("component", "backupworker").Logger(),
		queries,
		backupworker.DNAC(controllers),
		devices,
		backupworker.Options{
			ArchivePassword: cfg.Archive.Password,
			SpoolDir:        cfg.Archive.SpoolDir,
		},
		m,
	)

	searcher := search.New(logger.With().Str("component", "search").Logger(), queries, m)

	sched := scheduler.New(
		logger.With().Str("component", "scheduler").Logger(),
		queries,
		scheduler.RunnerFunc(func(ctx context.Context, req scheduler.Request) error {
			_, err := runner.RunForController(ctx, req.Job.AuthorID, req.Job.ControllerID, backupworker.AllDevices(), backupworker.TriggerScheduled)
			return err
		}),
		scheduler.Options{Tick: cfg.Scheduler.Tick},
		m,
	)

	h := httpapi.NewHandler(logger, pool, httpapi.Options{
		Runner:   runner,
		Searcher: searcher,
		Restorer: devices,
		Mailbox:  sched.Mailbox(),
		Metrics:  m,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sup := supervisor.New(logger.With().Str("component", "supervisor").Logger(), "cfgvault", supervisor.DefaultConfig())
	sup.Add(supervisor.NewHTTPService(srv, 10*time.Second))
	sup.Add(sched)

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("core-go listening")
	return sup.Serve(ctx)
}
