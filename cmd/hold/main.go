package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // User timezones must resolve on hosts without zoneinfo.

	"holdmail/internal/config"
	"holdmail/internal/intake"
	"holdmail/internal/storage"
)

func main() {
	userID := flag.Int64("user", 0, "id of the user the message is held for")
	senderID := flag.Int64("sender", 0, "id of the sender whose preference applies (optional)")
	file := flag.String("file", "", "path to the RFC 5322 message (default stdin)")
	dbPath := flag.String("db", "", "path to sqlite database (default DATABASE_PATH)")
	flag.Parse()

	if *userID == 0 {
		fmt.Fprintln(os.Stderr, "Usage: hold -user <id> [-sender id] [-file message.eml] [-db path]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	in := os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Error("open message", "path", *file, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	email, err := intake.Parse(in)
	if err != nil {
		log.Error("parse message", "error", err)
		os.Exit(1)
	}
	email.UserID = *userID
	if *senderID != 0 {
		email.SenderID = senderID
	}

	path := cfg.DatabasePath
	if *dbPath != "" {
		path = *dbPath
	}
	store, err := storage.NewSQLite(path)
	if err != nil {
		log.Error("open database", "path", path, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := intake.New(store, nil).Hold(ctx, email); err != nil {
		log.Error("hold message", "user_id", *userID, "error", err)
		os.Exit(1)
	}

	log.Info("message held",
		"email_id", email.ID,
		"user_id", email.UserID,
		"from", email.FromEmail,
		"scheduled_for", email.ScheduledFor,
	)
}
