package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bryan-buckman/aurora/internal/config"
	"github.com/bryan-buckman/aurora/internal/database"
	"github.com/bryan-buckman/aurora/internal/icon"
	"github.com/bryan-buckman/aurora/internal/logger"
	"github.com/bryan-buckman/aurora/internal/metrics"
	"github.com/bryan-buckman/aurora/internal/rss"
	"github.com/bryan-buckman/aurora/internal/scheduler"
)

// app holds the wired components shared by the commands.
type app struct {
	log      *logger.Logger
	registry *prometheus.Registry
	db       *database.DB
	fetcher  *rss.Fetcher
	icons    *icon.Service
	sched    *scheduler.Scheduler
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	log, err := logger.New(logger.Config{
		Level:      c.Log.Level,
		Encoding:   c.Log.Encoding,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(ctx, c.Database.Driver, c.Database.DSN)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Info("Database opened", "type", db.DatabaseType())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fetcher := rss.NewFetcher(db,
		rss.WithTimeout(c.Fetcher.Timeout),
		rss.WithUserAgent(c.Fetcher.UserAgent),
		rss.WithLogger(log.With("component", "fetcher")),
		rss.WithMetrics(m),
	)
	icons := icon.NewService(db,
		icon.WithTimeout(c.Icons.Timeout),
		icon.WithUserAgent(c.Icons.UserAgent),
		icon.WithLogger(log.With("component", "icons")),
		icon.WithMetrics(m),
	)
	sched, err := scheduler.New(db, fetcher, icons,
		scheduler.WithLogger(log.With("component", "scheduler")),
		scheduler.WithMetrics(m),
		scheduler.WithHistoryLimit(c.Scheduler.HistoryLimit),
		scheduler.WithSweepConcurrency(c.Scheduler.SweepConcurrency),
	)
	if err != nil {
		db.Close()
		log.Sync()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	return &app{
		log:      log,
		registry: reg,
		db:       db,
		fetcher:  fetcher,
		icons:    icons,
		sched:    sched,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Error("Failed to close database", "error", err)
	}
	_ = a.log.Sync()
}
