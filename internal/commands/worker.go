package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/agent"
	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/query"
	"github.com/dotcommander/codexmem/internal/scheduler"
	"github.com/dotcommander/codexmem/internal/server"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/vector"
)

const (
	embedTimeout    = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// NewWorkerCmd runs the long-lived memory worker: HTTP+SSE server, queue
// scheduler, and distillation agents, all on loopback.
func NewWorkerCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the memory worker (loopback HTTP, SSE, background agents)",
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLogs := app.SetupWorkerLogging()
			defer closeLogs()

			cfg := app.LoadConfig()
			host, port := workerAddr(cmd)

			if _, err := app.EnsureDataDir(); err != nil {
				return cmdErr(err)
			}
			dbPath, err := app.DBPath()
			if err != nil {
				return cmdErr(err)
			}
			db, err := store.Open(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer db.Close()
			if err := store.MigrateDB(db, dbPath); err != nil {
				return cmdErr(err)
			}

			index := openVectorIndex(cfg)
			writer := vector.NewWriter(index)
			defer writer.Close()

			broadcast := server.NewBroadcaster()
			runner := agent.NewRunner(db, writer, broadcast.Publish)
			sched := scheduler.New(runner.ProcessSession, cfg.MaxConcurrentAgents)

			if err := app.WritePIDFile(port); err != nil {
				return cmdErr(err)
			}
			defer func() { _ = app.RemovePIDFile() }()

			watchCtx, cancelWatch := context.WithCancel(context.Background())
			defer cancelWatch()
			if err := app.WatchSettings(watchCtx); err != nil {
				slog.Warn("settings watcher unavailable", "error", err)
			}

			// Queue entries left behind by a previous run get picked up
			// immediately instead of waiting for the next enqueue.
			if ids, err := store.SessionsWithPending(db); err == nil {
				for _, id := range ids {
					sched.Kick(id, 0)
				}
			} else {
				slog.Warn("could not scan for leftover queue work", "error", err)
			}

			srv := server.New(db, query.New(db, index), runner, sched, broadcast, version)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(host, port) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

			select {
			case sig := <-sigCh:
				slog.Info("shutdown signal received", "signal", sig.String())
			case err := <-errCh:
				if err != nil {
					return cmdErr(err)
				}
				return nil
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown incomplete", "error", err)
			}
			if err := sched.Shutdown(shutdownCtx); err != nil {
				slog.Warn("scheduler shutdown incomplete", "error", err)
			}
			slog.Info("worker stopped")
			return nil
		},
	}
}

// openVectorIndex opens the persistent vector index when enabled. The index
// is never authoritative: any failure here degrades to FTS-only search.
func openVectorIndex(cfg app.Config) *vector.Index {
	if !cfg.VectorEnabled {
		return nil
	}
	dir, err := app.VectorsDir()
	if err != nil {
		slog.Warn("vector index unavailable, search will use FTS only", "error", err)
		return nil
	}
	embedder := vector.NewEmbedder(cfg.OllamaBaseURL, cfg.EmbeddingModel, embedTimeout)
	index, err := vector.Open(dir, embedder)
	if err != nil {
		slog.Warn("vector index unavailable, search will use FTS only", "error", err)
		return nil
	}
	return index
}
