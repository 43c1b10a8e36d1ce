// Package cmd implements the recap command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/recaphq/recap/db"
	"github.com/recaphq/recap/internal/config"
)

const usage = `recap - retrieval-augmented workspace assistant

Usage:
  recap [command]

Commands:
  serve      Start the API server (default)
  migrate    Run database migrations and exit
  version    Print version information
  help       Show this help
`

// Execute runs the command named by the first argument, defaulting to serve.
func Execute() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version":
		printVersion()
		return nil
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		fmt.Print(usage)
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runMigrate applies pending migrations without starting the server.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
