package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/imagepipe/pkg/api"
	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
	"github.com/khryptorgraphics/imagepipe/pkg/prefetch"
	"github.com/khryptorgraphics/imagepipe/pkg/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway in front of the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger()

	pl, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pl.Close()

	if cfg.Store.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mgr, err := store.NewManager(ctx, &cfg.Store, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to initialize persistence store: %w", err)
		}
		defer mgr.Close()
	}

	pf := prefetch.New(pl, pipeline.PriorityLow, cfg.Queue.Prefetch)

	srv, err := api.NewServer(cfg, pl, pf, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway exited: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
