package main

import (
	"context"
	"fmt"

	"github.com/Vovarama1992/clipvault/internal/config"
	"github.com/Vovarama1992/clipvault/internal/infra"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/zap"
)

// deps are the collaborators shared by every subcommand.
type deps struct {
	cfg   *config.Config
	log   *logger.ZapLogger
	repo  ports.MediaRepository
	files *infra.LocalFileStore
	cache ports.RecordCache

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context) (*deps, error) {
	// LOGGER
	zcore, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init zap: %w", err)
	}
	zl := logger.NewZapLogger(zcore.Sugar())
	d := &deps{log: zl}
	d.closers = append(d.closers, func() { _ = zcore.Sync() })

	// CONFIG
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	d.cfg = cfg
	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "configuration loaded",
		Fields:  map[string]any{"config": cfg.String()},
	})

	// METADATA STORE
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := infra.NewPgxPool(ctx, cfg.DSN(), zl)
		if err != nil {
			return nil, err
		}
		d.repo = infra.NewPostgresMediaRepo(pool)
	case config.DriverSQLite:
		repo, err := infra.NewSQLiteMediaRepo(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.repo = repo
	default:
		d.repo = infra.NewMemoryMediaRepo()
	}
	d.closers = append(d.closers, d.repo.Close)

	// FILES
	files, err := infra.NewLocalFileStore(cfg.UploadDir, cfg.TempDir)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.files = files

	// CACHE
	d.cache = infra.NoopRecordCache{}
	if cfg.RedisAddr != "" {
		rc := infra.NewRedisRecordCache(infra.RedisConfig{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		if err := rc.Ping(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.cache = rc
		d.closers = append(d.closers, func() { _ = rc.Close() })
	}

	return d, nil
}
