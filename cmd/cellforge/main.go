// cellforge transforms spreadsheet cells with an LLM from the command line,
// working on local .xlsx/.xlsm/.csv files. Configuration comes from the
// environment (and .env if present), as for the services.
//
//	cellforge transform -file people.xlsx -columns Name -prompt "Title Case"
//	cellforge preview   -file people.xlsx -columns Name -instruction "Fix typos"
//	cellforge models | test-connection | prompts | info -file people.xlsx
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/logging"
)

func main() {
	_ = godotenv.Load(".env") // ignore error if .env missing

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewText(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.FromConfig(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm: %v\n", err)
		os.Exit(1)
	}

	app := &cli{
		backends: client,
		defaults: cfg.Processing,
		logger:   logger,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	if err := app.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cellforge: %v\n", err)
		os.Exit(1)
	}
}
