package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"holdmail/internal/config"
	"holdmail/internal/fetcher"
	"holdmail/internal/storage"
)

func main() {
	userID := flag.Int64("user", 0, "id of the user who owns the imported links")
	feedURL := flag.String("feed", "", "RSS or Atom feed URL")
	dbPath := flag.String("db", "", "path to sqlite database (default DATABASE_PATH)")
	flag.Parse()

	if *userID == 0 || *feedURL == "" {
		fmt.Fprintln(os.Stderr, "Usage: linkimport -user <id> -feed <url> [-db path]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

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

	if _, err := store.GetUser(context.Background(), *userID); err != nil {
		log.Error("get user", "user_id", *userID, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	saved, err := fetcher.New(http.DefaultClient).Import(ctx, store, *userID, *feedURL)
	if err != nil {
		log.Error("import feed", "url", *feedURL, "error", err)
		os.Exit(1)
	}
	log.Info("imported links", "url", *feedURL, "user_id", *userID, "saved", saved)
}
