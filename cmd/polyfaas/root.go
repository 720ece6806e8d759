package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const dataDir = ".faas"

var rootCmd = &cobra.Command{
	Use:   "polyfaas",
	Short: "Polyglot function host",
	Long: `polyfaas - Store and invoke user functions written in JavaScript, Python,
or Ruby, with per-invocation sandboxes, host-mediated networking behind an IP
egress blocklist, and per-function resource bindings.`,
}

func Execute() {
	// A .env next to the process is a convenience; plain environment
	// variables always work.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func fail(err error) {
	slog.New(slog.NewTextHandler(os.Stderr, nil)).Error(err.Error())
	os.Exit(1)
}
