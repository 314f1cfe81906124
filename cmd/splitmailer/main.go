package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"splitmailer/internal/archive"
	"splitmailer/internal/config"
	"splitmailer/internal/job"
	"splitmailer/internal/mailer"
	"splitmailer/internal/server"
	"splitmailer/internal/store"
)

func main() {
	cfg := config.Load()

	// Root context: cancelled on SIGINT/SIGTERM. Running jobs are not
	// individually cancellable; they wind down only at process exit.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	st, err := store.New(cfg.DataDir)
	if err != nil {
		slog.Error("failed to prepare data directories", "error", err)
		os.Exit(1)
	}

	resolver := &archive.Resolver{
		BinDir:  st.BinDir(),
		DestDir: st.SevenZDir(),
		Tarball: cfg.SevenZTarball,
	}
	// Resolve the archiver once at startup. Failure is logged rather than
	// fatal; the first job to need it retries resolution.
	if path, err := resolver.Path(); err != nil {
		slog.Error("archiver not ready", "error", err)
	} else {
		slog.Info("archiver ready", "path", path)
	}

	splitter := &archive.Splitter{Resolve: resolver.Path}
	jobSvc := job.NewService(rootCtx, cfg, st, splitter, mailer.Dial)

	srv := server.New(rootCtx, cfg, jobSvc, st, mailer.Dial)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	<-done

	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
