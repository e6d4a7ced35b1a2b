// Command smartrecall drives the assistant from a terminal: ask questions,
// end sessions, inspect carts and cache policies, and probe a running server.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
