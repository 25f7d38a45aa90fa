package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

const DefaultOrphanGrace = time.Hour

// Reconciler sweeps up after ingestions that registered metadata but never
// recorded a storage path. Such records are marked failed, so they stay
// unservable, and any file that reached the final path is removed.
type Reconciler struct {
	repo  ports.MediaRepository
	files ports.FileStore
	grace time.Duration
	log   *logger.ZapLogger
	now   func() time.Time
}

type SweepReport struct {
	Failed       int
	FilesRemoved int
	TempRemoved  int
}

func NewReconciler(repo ports.MediaRepository, files ports.FileStore, grace time.Duration, log *logger.ZapLogger) *Reconciler {
	if grace <= 0 {
		grace = DefaultOrphanGrace
	}
	return &Reconciler{repo: repo, files: files, grace: grace, log: log, now: time.Now}
}

func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := r.now().Add(-r.grace)

	orphans, err := r.repo.ListOrphans(ctx, cutoff)
	if err != nil {
		return rep, fmt.Errorf("list orphans: %w", err)
	}

	for _, rec := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		name := StorageName(rec.ID, rec.Extension())
		err := r.files.Remove(name)
		switch {
		case err == nil:
			rep.FilesRemoved++
		case errors.Is(err, fs.ErrNotExist):
		default:
			return rep, fmt.Errorf("remove %s: %w", name, err)
		}

		if err := r.repo.MarkFailed(ctx, rec.ID); err != nil {
			return rep, fmt.Errorf("mark %d failed: %w", rec.ID, err)
		}
		rep.Failed++

		r.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "orphaned media record marked failed",
			Fields: map[string]any{
				"record_id":  rec.ID,
				"token":      rec.PublicToken,
				"created_at": rec.CreatedAt,
			},
		})
	}

	n, err := r.files.SweepTemp(cutoff)
	if err != nil {
		return rep, fmt.Errorf("sweep temp files: %w", err)
	}
	rep.TempRemoved = n

	r.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "reconcile sweep done",
		Fields: map[string]any{
			"failed":        rep.Failed,
			"files_removed": rep.FilesRemoved,
			"temp_removed":  rep.TempRemoved,
		},
	})
	return rep, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Log(logger.LogEntry{
					Level:   "error",
					Message: "reconcile sweep failed",
					Error:   err,
				})
			}
		}
	}
}
