package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

// DeliveryService resolves public tokens to placed files. Visibility is
// gated on the record's storage path, never on the file existing on disk.
type DeliveryService struct {
	repo  ports.MediaRepository
	cache ports.RecordCache
	files ports.FileStore
	log   *logger.ZapLogger
}

func NewDeliveryService(repo ports.MediaRepository, cache ports.RecordCache, files ports.FileStore, log *logger.ZapLogger) *DeliveryService {
	return &DeliveryService{repo: repo, cache: cache, files: files, log: log}
}

var _ ports.MediaDelivery = (*DeliveryService)(nil)

// Resolve returns ErrNotFound for unknown tokens and ErrNotReady for records
// whose file has not been placed.
func (d *DeliveryService) Resolve(ctx context.Context, token string) (*models.MediaRecord, error) {
	if !validToken(token) {
		return nil, ErrNotFound
	}

	if d.cache != nil {
		rec, err := d.cache.Get(ctx, token)
		if err != nil {
			d.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "record cache get failed",
				Fields:  map[string]any{"token": token},
				Error:   err,
			})
		} else if rec != nil {
			return rec, nil
		}
	}

	rec, err := d.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find record: %w", errors.Join(ErrPersistence, err))
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if !rec.Placed() {
		return nil, fmt.Errorf("token %s status %s: %w", token, rec.Status, ErrNotReady)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, rec); err != nil {
			d.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "record cache set failed",
				Fields:  map[string]any{"token": token},
				Error:   err,
			})
		}
	}
	return rec, nil
}

// Open resolves the token and opens its file. The caller closes Content.
func (d *DeliveryService) Open(ctx context.Context, token string) (*ports.MediaContent, error) {
	rec, err := d.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	f, size, err := d.files.Open(*rec.StoragePath)
	if err != nil {
		// placed per metadata but gone from disk
		d.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "placed media file missing",
			Fields:  map[string]any{"record_id": rec.ID, "path": *rec.StoragePath},
			Error:   err,
		})
		return nil, fmt.Errorf("open %s: %w", *rec.StoragePath, errors.Join(ErrPersistence, err))
	}
	return &ports.MediaContent{Record: rec, Content: f, Size: size}, nil
}

func validToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for _, c := range token {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
