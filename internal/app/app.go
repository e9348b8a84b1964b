// Package app wires the application together: configuration, Genkit,
// the database pool, the knowledge store, ingestion and the chat
// agent. Setup builds everything in dependency order and Close tears
// it down in reverse.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quill-chat/quill/internal/chat"
	"github.com/quill-chat/quill/internal/config"
	"github.com/quill-chat/quill/internal/knowledge"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/rag"
	"github.com/quill-chat/quill/internal/session"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	Pool      *pgxpool.Pool
	Knowledge *knowledge.Store
	Sessions  *session.Store
	Indexer   *rag.Indexer
	Retriever ai.Retriever
	Tools     []ai.Tool
	Agent     *chat.Agent
	Flow      *chat.Flow

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
