package ports

import (
	"context"
	"io"

	"github.com/Vovarama1992/clipvault/internal/models"
)

// ProgressSink receives percentages while an ingested file is re-read from disk.
type ProgressSink interface {
	Progress(percent float64) error
	Complete() error
}

type IngestRequest struct {
	// File is read after validation. Staged is an upload already received
	// with Stage; Ingest takes ownership of it and discards it unless placed.
	File          io.Reader
	Staged        TempFile
	Filename      string
	Title         string
	StartDateTime string
	Location      string
	TermsChecked  string
}

type IngestResult struct {
	PublicToken string
	Record      *models.MediaRecord
}

type MediaIngester interface {
	Stage(ctx context.Context, r io.Reader) (TempFile, error)
	// Ingest returns a non-nil result together with an error when the
	// upload was committed but confirming it to sink failed.
	Ingest(ctx context.Context, req IngestRequest, sink ProgressSink) (*IngestResult, error)
}

// MediaContent is an opened, placed media file.
type MediaContent struct {
	Record  *models.MediaRecord
	Content io.ReadSeekCloser
	Size    int64
}

type MediaDelivery interface {
	Open(ctx context.Context, token string) (*MediaContent, error)
}
