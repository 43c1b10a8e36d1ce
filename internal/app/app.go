// Package app assembles the application: configuration, database, AI
// provider, the retrieval pipeline, and the HTTP API.
package app

import (
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recaphq/recap/internal/api"
	"github.com/recaphq/recap/internal/config"
	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/index"
	"github.com/recaphq/recap/internal/llm"
	"github.com/recaphq/recap/internal/log"
	"github.com/recaphq/recap/internal/turn"
)

// App holds all initialized application components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	History     conversation.Store
	Index       *index.Store
	Entities    *index.EntitySource
	Ingestor    *index.Ingestor
	LLM         *llm.Client
	Coordinator *turn.Coordinator
	Server      *api.Server

	dbCleanup func()
}

// Close releases all resources in reverse initialization order. Safe to call
// on a partially initialized App.
func (a *App) Close() error {
	var errs []error

	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}

	return errors.Join(errs...)
}

// logger returns the configured logger, defaulting to slog.Default.
func (a *App) logger() log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
