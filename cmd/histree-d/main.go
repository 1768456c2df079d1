package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/histree-io/histree/pkg/api"
	"github.com/histree-io/histree/pkg/blob"
	"github.com/histree-io/histree/pkg/engine"
	"github.com/histree-io/histree/pkg/store"
	redisstore "github.com/histree-io/histree/pkg/store/redis"
	"github.com/histree-io/histree/web"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

// run wires the daemon together. Cleanup is defer-ordered so teardown is
// the reverse of construction: HTTP server first (explicitly, before
// returning), then workers, then the journal's final flush, then the
// store.
func run(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("system started",
		"component", "histree-d",
		"version", api.Version,
		"addr", cfg.Addr,
		"journal", cfg.DBPath != "")

	// Change journal (optional): SQLite store + async writer, with an
	// optional Redis stream mirror hanging off the writer.
	var (
		st      *store.Store
		events  api.EventSource
		journal *store.Journal
	)
	if cfg.DBPath != "" {
		var err error
		st, err = store.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to init store: %w", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				slog.Error("failed to close store", "error", err)
			}
		}()
		slog.Info("store initialized", "path", cfg.DBPath)
		events = st

		var mirror store.Mirror
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			sm := redisstore.NewStreamMirror(rdb, "", 0)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := sm.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("redis mirror configured but unreachable: %w", err)
			}
			mirror = sm
			slog.Info("journal mirroring to redis", "addr", cfg.RedisAddr, "stream", redisstore.DefaultStream)
		}

		journal = store.NewJournal(st, mirror, "histree-d")
		jctx, jcancel := context.WithCancel(context.Background())
		go journal.Run(jctx)
		defer func() {
			jcancel()
			<-journal.Done()
		}()
	}

	var recorder engine.Recorder
	if journal != nil {
		recorder = journal
	}
	repo := engine.NewRepository(recorder)

	// Maintenance workers. Backlog monitoring only needs the repository;
	// everything else rides on the journal.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	runWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(workerCtx)
		}()
	}
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	runWorker(engine.NewBacklogMonitor(repo, engine.BacklogConfig{}).Run)
	if st != nil {
		runWorker(engine.NewRollupWorker(st, cfg.RollupInterval).Run)
		if cfg.BlobDir != "" {
			archiver := engine.NewArchiveWorker(st, blob.NewLocalStore(cfg.BlobDir), engine.ArchiveConfig{
				Retention: cfg.Retention,
			})
			runWorker(archiver.Run)
			slog.Info("archiving aged journal events", "blob_dir", cfg.BlobDir, "retention", cfg.Retention)
		} else {
			runWorker(engine.NewPruneWorker(st, cfg.Retention, 0).Run)
		}
	}

	srv := api.NewServer(repo, events, cfg.Addr)
	switch cfg.WebAssetsMode {
	case "embedded":
		assets, err := web.Assets()
		if err != nil {
			return fmt.Errorf("failed to load embedded web assets: %w", err)
		}
		srv.SetStaticFS(assets)
	case "fs":
		srv.SetStaticFS(os.DirFS(cfg.WebDir))
		slog.Info("serving web assets from disk", "dir", cfg.WebDir)
	}
	if cfg.TLSCertFile != "" {
		srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	<-serveErr
	slog.Info("shutdown complete")
	return nil
}
