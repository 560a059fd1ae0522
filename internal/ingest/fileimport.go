package ingest

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"

	"loadguard/internal/config"
	"loadguard/internal/model"
	"loadguard/internal/normalize"
)

// StartFileImport reads JSON-lines export files once, in order, for
// historical backfill. Unlike a log tail there is no follow mode: source
// records are a bounded batch.
func StartFileImport(ctx context.Context, cfg *config.Manager, out chan<- model.Record, logger *slog.Logger, done func()) {
	current := cfg.Get().Ingest.FileImport
	if !current.Enabled {
		if logger != nil {
			logger.Info("file import disabled")
		}
		if done != nil {
			done()
		}
		return
	}
	go func() {
		if done != nil {
			defer done()
		}
		for _, path := range current.Files {
			if ctx.Err() != nil {
				return
			}
			n, err := importFile(ctx, path, cfg, out, logger)
			if logger != nil {
				if err != nil {
					logger.Error("file import failed", "path", path, "err", err)
				} else {
					logger.Info("file import complete", "path", path, "records", n)
				}
			}
		}
	}()
}

func importFile(ctx context.Context, path string, cfg *config.Manager, out chan<- model.Record, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	imported := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return imported, ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := ParseJSONBytes([]byte(line))
		if err != nil {
			if logger != nil {
				logger.Warn("file import decode error", "path", path, "err", err)
			}
			continue
		}
		rec, err := normalize.Normalize(*fields, cfg.Get())
		if err != nil {
			if logger != nil {
				logger.Warn("file import normalize error", "path", path, "err", err)
			}
			continue
		}
		rec.Source = "file_import"
		// Backfill must not lose records to a full channel.
		select {
		case out <- rec:
			imported++
		case <-ctx.Done():
			return imported, ctx.Err()
		}
	}
	return imported, scanner.Err()
}
