package ports

import (
	"context"
	"time"

	"github.com/Vovarama1992/clipvault/internal/models"
)

// MediaRepository is the metadata store collaborator.
type MediaRepository interface {
	// Insert stores a pending record and returns its internal id.
	// A duplicate public token yields domain.ErrTokenConflict.
	Insert(ctx context.Context, rec *models.MediaRecord) (int64, error)
	// FindByToken returns nil, nil when no record carries the token.
	FindByToken(ctx context.Context, token string) (*models.MediaRecord, error)
	// SetStoragePath assigns the final path once; a second call fails.
	SetStoragePath(ctx context.Context, id int64, path string) error

	ListOrphans(ctx context.Context, createdBefore time.Time) ([]models.MediaRecord, error)
	MarkFailed(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close()
}

// RecordCache holds placed records by public token.
type RecordCache interface {
	Get(ctx context.Context, token string) (*models.MediaRecord, error)
	Set(ctx context.Context, rec *models.MediaRecord) error
}
