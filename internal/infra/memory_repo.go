package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
)

// MemoryMediaRepo keeps records in process. Used for single-process
// deployments without a database and in tests.
type MemoryMediaRepo struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*models.MediaRecord
	byToken map[string]int64
}

func NewMemoryMediaRepo() *MemoryMediaRepo {
	return &MemoryMediaRepo{
		byID:    make(map[int64]*models.MediaRecord),
		byToken: make(map[string]int64),
	}
}

var _ ports.MediaRepository = (*MemoryMediaRepo)(nil)

func (r *MemoryMediaRepo) Insert(_ context.Context, rec *models.MediaRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byToken[rec.PublicToken]; taken {
		return 0, domain.ErrTokenConflict
	}

	r.nextID++
	cp := *rec
	cp.ID = r.nextID
	cp.StoragePath = nil
	if cp.Status == "" {
		cp.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	r.byID[cp.ID] = &cp
	r.byToken[cp.PublicToken] = cp.ID
	return cp.ID, nil
}

func (r *MemoryMediaRepo) FindByToken(_ context.Context, token string) (*models.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryMediaRepo) SetStoragePath(_ context.Context, id int64, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("set storage path: record %d not found", id)
	}
	if rec.StoragePath != nil || rec.Status != models.StatusPending {
		return fmt.Errorf("set storage path: record %d is %s", id, rec.Status)
	}
	p := path
	rec.StoragePath = &p
	rec.Status = models.StatusReady
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryMediaRepo) ListOrphans(_ context.Context, createdBefore time.Time) ([]models.MediaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.MediaRecord
	for _, rec := range r.byID {
		if rec.Status == models.StatusPending && rec.StoragePath == nil && rec.CreatedAt.Before(createdBefore) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryMediaRepo) MarkFailed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("mark failed: record %d not found", id)
	}
	if rec.StoragePath != nil {
		return fmt.Errorf("mark failed: record %d already placed", id)
	}
	rec.Status = models.StatusFailed
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryMediaRepo) Ping(context.Context) error { return nil }

func (r *MemoryMediaRepo) Close() {}
