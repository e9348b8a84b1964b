package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quill-chat/quill/internal/app"
	"github.com/quill-chat/quill/internal/config"
	"github.com/quill-chat/quill/internal/log"
)

// runAsk answers a one-shot question and prints it to stdout. A
// throwaway session is created so the agent has a place to persist
// the exchange.
func runAsk(logger log.Logger) error {
	question := strings.TrimSpace(strings.Join(os.Args[2:], " "))
	if question == "" {
		return fmt.Errorf("usage: quill ask <question>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	title := a.Agent.GenerateTitle(ctx, question)
	sess, err := a.Sessions.Create(ctx, title, cfg.ModelName)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	resp, err := a.Agent.Execute(ctx, sess.ID, question)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	fmt.Println(resp.FinalText)

	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range resp.Sources {
			name := src.FileName
			if name == "" {
				name = src.ID
			}
			fmt.Printf("  [%d] %s\n", i+1, name)
		}
	}
	return nil
}
