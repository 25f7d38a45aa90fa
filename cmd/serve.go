package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vovarama1992/clipvault/internal/delivery"
	"github.com/Vovarama1992/clipvault/internal/delivery/ws"
	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the periodic reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	cfg, zl := d.cfg, d.log

	// SERVICES
	alloc := domain.NewAllocator(d.repo, cfg.AllocMaxAttempts)
	progress := domain.NewProgressReporter(cfg.ProgressChunkBytes)
	mediaService := domain.NewMediaService(d.repo, d.files, alloc, progress, zl)
	deliveryService := domain.NewDeliveryService(d.repo, d.cache, d.files, zl)
	reconciler := domain.NewReconciler(d.repo, d.files, cfg.OrphanGrace, zl)

	// WS HUB
	hub := ws.NewHub(zl)

	// HANDLERS
	hMedia := delivery.NewMediaHandler(mediaService, deliveryService, hub, zl, delivery.MediaHandlerConfig{
		MaxUploadBytes: cfg.MaxUploadBytes,
		UploadTimeout:  cfg.UploadTimeout,
	})
	hHealth := delivery.NewHealthHandler(d.repo, zl)

	// ROUTER
	r := delivery.NewRouter(cfg.CORSOrigins, zl)
	delivery.RegisterRoutes(r, hMedia, hHealth, hub, zl)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zl.Log(logger.LogEntry{
			Level:   "info",
			Message: "server started",
			Fields:  map[string]any{"addr": srv.Addr},
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return reconciler.Run(gctx, cfg.ReconcileInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			zl.Log(logger.LogEntry{
				Level:   "error",
				Message: "forced shutdown",
				Error:   err,
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zl.Log(logger.LogEntry{
			Level:   "error",
			Message: "server crashed",
			Error:   err,
		})
		return err
	}
	zl.Log(logger.LogEntry{Level: "info", Message: "server stopped"})
	return nil
}
