package main

import (
	"log/slog"
	"os"

	"github.com/dwizi/slack-bridge/internal/cli"
	"github.com/dwizi/slack-bridge/internal/config"
)

func main() {
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
