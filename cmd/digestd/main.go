package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata" // User timezones must resolve on hosts without zoneinfo.

	"holdmail/internal/alert"
	"holdmail/internal/config"
	"holdmail/internal/mailer"
	"holdmail/internal/scheduler"
	"holdmail/internal/storage"
	"holdmail/internal/sweep"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	sink := mailer.NewPostmark(&http.Client{Timeout: 10 * time.Second},
		cfg.PostmarkServerToken, cfg.DigestFrom, cfg.PostmarkEndpoint)
	if err := sink.Ready(); err != nil {
		log.Warn("digests will not be delivered until the mail sink is configured", "error", err)
	}

	opts := []sweep.Option{
		sweep.WithBaseURL(cfg.FrontendURL),
		sweep.WithWorkers(cfg.SweepWorkers),
	}
	if cfg.AlertsEnabled() {
		tg, err := alert.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAlertChatID, log)
		if err != nil {
			log.Error("create telegram alerter", "error", err)
			os.Exit(1)
		}
		opts = append(opts, sweep.WithAlerter(tg))
	}
	engine := sweep.New(store, sink, log, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		delivered, err := engine.Run(ctx)
		if err != nil {
			log.Error("sweep", "error", err)
			os.Exit(1)
		}
		log.Info("sweep complete", "delivered", delivered)
		return
	}

	sched := scheduler.New(engine, log)
	sched.SetTickInterval(cfg.SweepInterval)

	log.Info("starting digest scheduler", "interval", cfg.SweepInterval, "workers", cfg.SweepWorkers)

	sched.Run(ctx)

	log.Info("digest scheduler stopped")
}
