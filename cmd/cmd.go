// Package cmd provides the quill CLI commands.
//
// Commands:
//   - serve:  HTTP server with chat API, SSE streaming and the web UI
//   - ingest: index a file or directory into the knowledge store
//   - ask:    one-shot question against the indexed documents
//
// Signal handling and graceful shutdown are implemented for all
// long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/quill-chat/quill/internal/log"
)

// Execute is the main entry point for the quill CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "ingest":
		return runIngest(logger)
	case "ask":
		return runAsk(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Quill - chat with your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  quill serve [addr]    Start HTTP server (default: 127.0.0.1:3400)")
	fmt.Println("  quill ingest [path]   Index a file or directory (default: docs dir)")
	fmt.Println("  quill ask <question>  Ask a one-shot question")
	fmt.Println("  quill --version       Show version information")
	fmt.Println("  quill --help          Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY        Required for the gemini provider")
	fmt.Println("  OPENAI_API_KEY        Required for the openai provider")
	fmt.Println("  DATABASE_URL          Optional: overrides postgres settings")
	fmt.Println("  DEBUG                 Optional: enable debug logging")
}
