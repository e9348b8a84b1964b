package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/quill-chat/quill/internal/app"
	"github.com/quill-chat/quill/internal/config"
	"github.com/quill-chat/quill/internal/log"
)

// runIngest indexes a file or directory into the knowledge store.
// A file lock serializes ingest runs so two invocations cannot write
// interleaved chunks for the same files.
func runIngest(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	target := cfg.DocsDir
	if len(os.Args) > 2 {
		target = os.Args[2]
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	lock := flock.New(filepath.Join(os.TempDir(), "quill-ingest.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another ingest is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("releasing ingest lock", "error", err)
		}
	}()

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

	if !info.IsDir() {
		chunks, err := a.Indexer.AddFile(ctx, target)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", target, err)
		}
		fmt.Printf("Indexed %s (%d chunks)\n", target, chunks)
		return nil
	}

	result, err := a.Indexer.AddDirectory(ctx, target)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", target, err)
	}

	fmt.Printf("Indexed %s\n", target)
	fmt.Printf("  Files added:   %d\n", result.FilesAdded)
	fmt.Printf("  Files skipped: %d\n", result.FilesSkipped)
	fmt.Printf("  Files failed:  %d\n", result.FilesFailed)
	fmt.Printf("  Chunks added:  %d\n", result.ChunksAdded)
	fmt.Printf("  Duration:      %s\n", result.Duration.Round(time.Millisecond))
	return nil
}
