package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwhitfield/choir/internal/bot"
	"github.com/mwhitfield/choir/internal/config"
	"github.com/mwhitfield/choir/internal/discord"
	"github.com/mwhitfield/choir/internal/llm"
	"github.com/mwhitfield/choir/internal/logging"
	"github.com/mwhitfield/choir/internal/store"
	"github.com/mwhitfield/choir/internal/turn"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	session, err := discord.NewDiscordSession(cfg.DiscordToken)
	if err != nil {
		logger.Error("failed to create Discord session", "error", err)
		os.Exit(1)
	}

	adapter := discord.NewAdapter(session, db, logger)
	completions := llm.NewCompletionClient(logger)
	router := turn.NewRouter(adapter, db, adapter, completions, adapter, adapter, adapter, adapter, logger)
	b := bot.NewBot(session, db, router, logger)

	if err := b.Start(ctx); err != nil {
		logger.Error("failed to start bot", "error", err)
		os.Exit(1)
	}

	logger.Info("bot is now running, press CTRL-C to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("shutting down bot")
	if err := b.Close(ctx); err != nil {
		logger.Error("error closing bot", "error", err)
	}
}
