package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

var allowedExtensions = map[string]bool{
	"mp4": true,
	"mov": true,
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// StorageName derives the final file name of a record.
func StorageName(id int64, ext string) string {
	return fmt.Sprintf("%d.%s", id, ext)
}

// MediaService runs the ingestion pipeline: receive to a temp file, allocate
// a token, register metadata, relocate, then record the final path.
type MediaService struct {
	repo     ports.MediaRepository
	files    ports.FileStore
	alloc    *Allocator
	progress *ProgressReporter
	log      *logger.ZapLogger
	now      func() time.Time
}

func NewMediaService(
	repo ports.MediaRepository,
	files ports.FileStore,
	alloc *Allocator,
	progress *ProgressReporter,
	log *logger.ZapLogger,
) *MediaService {
	return &MediaService{
		repo:     repo,
		files:    files,
		alloc:    alloc,
		progress: progress,
		log:      log,
		now:      time.Now,
	}
}

var _ ports.MediaIngester = (*MediaService)(nil)

// SupportedFilename reports whether name has an accepted video extension.
func SupportedFilename(name string) bool {
	return allowedExtensions[fileExt(name)]
}

func fileExt(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func (m *MediaService) validate(req ports.IngestRequest) (ext string, start time.Time, err error) {
	if (req.File == nil && req.Staged == nil) || req.Filename == "" ||
		strings.TrimSpace(req.Title) == "" ||
		strings.TrimSpace(req.StartDateTime) == "" ||
		req.TermsChecked == "" {
		return "", time.Time{}, invalid("Missing required fields")
	}
	if req.TermsChecked != "true" {
		return "", time.Time{}, invalid("Terms must be checked")
	}

	ext = fileExt(req.Filename)
	if !allowedExtensions[ext] {
		return "", time.Time{}, invalid("Unsupported file type")
	}

	start, ok := parseStartTime(req.StartDateTime)
	if !ok {
		return "", time.Time{}, invalid("Invalid startDateTime")
	}
	return ext, start, nil
}

func parseStartTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Stage receives r into a randomly named temp file. Pass it back as
// IngestRequest.Staged.
func (m *MediaService) Stage(ctx context.Context, r io.Reader) (ports.TempFile, error) {
	tmp, err := m.files.NewTemp()
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", errors.Join(ErrPersistence, err))
	}
	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Discard()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("write temp file: %w", errors.Join(ErrPersistence, err))
	}
	return tmp, nil
}

// Ingest stores the upload and returns its public token. Progress is sent to
// sink only after the record points at the placed file; nothing is written to
// sink on failure before that point. If confirming to sink fails after that,
// the result is returned along with the error.
func (m *MediaService) Ingest(ctx context.Context, req ports.IngestRequest, sink ports.ProgressSink) (*ports.IngestResult, error) {
	if req.Staged != nil {
		defer req.Staged.Discard()
	}
	ext, start, err := m.validate(req)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = DiscardProgress
	}

	// 1. receive into a randomly named temp file
	tmp := req.Staged
	if tmp == nil {
		if tmp, err = m.Stage(ctx, req.File); err != nil {
			return nil, err
		}
		defer tmp.Discard()
	}
	size := tmp.Size()

	// 2. allocate a token and register metadata
	rec := &models.MediaRecord{
		Title:            strings.TrimSpace(req.Title),
		StartTime:        start,
		OriginalFilename: req.Filename,
		Status:           models.StatusPending,
	}
	if loc := strings.TrimSpace(req.Location); loc != "" {
		rec.Location = &loc
	}

	token, err := m.alloc.AllocateAndInsert(ctx, ext, func(ctx context.Context, token string) error {
		rec.PublicToken = token
		now := m.now().UTC()
		rec.CreatedAt, rec.UpdatedAt = now, now
		id, err := m.repo.Insert(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAllocationExhausted) {
			m.log.Log(logger.LogEntry{
				Level:   "error",
				Message: "public token allocation exhausted",
				Fields:  map[string]any{"ext": ext, "attempts": m.alloc.maxAttempts},
				Error:   err,
			})
			return nil, err
		}
		if errors.Is(err, ErrPersistence) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("insert record: %w", errors.Join(ErrPersistence, err))
	}

	// 3. relocate and record the final path
	name := StorageName(rec.ID, ext)
	if err := tmp.CommitAs(name); err != nil {
		m.logOrphan(rec, name, "relocate failed", err)
		return nil, fmt.Errorf("relocate %s: %w", name, errors.Join(ErrPersistence, err))
	}
	if err := m.repo.SetStoragePath(ctx, rec.ID, name); err != nil {
		m.logOrphan(rec, name, "storage path update failed", err)
		return nil, fmt.Errorf("set storage path %s: %w", name, errors.Join(ErrPersistence, err))
	}
	rec.StoragePath = &name
	rec.Status = models.StatusReady

	m.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "media placed",
		Fields: map[string]any{
			"token": token,
			"path":  name,
			"size":  size,
		},
	})

	// 4. confirm by re-reading the placed file
	res := &ports.IngestResult{PublicToken: token, Record: rec}
	if err := m.confirm(ctx, name, size, sink); err != nil {
		return res, err
	}
	return res, nil
}

func (m *MediaService) confirm(ctx context.Context, name string, size int64, sink ports.ProgressSink) error {
	f, _, err := m.files.Open(name)
	if err != nil {
		return fmt.Errorf("open placed file: %w", errors.Join(ErrPersistence, err))
	}
	defer f.Close()

	return m.progress.Report(ctx, f, size, sink)
}

// logOrphan reports a record left with no storage path. The reconciler
// marks it failed once it is older than the grace period.
func (m *MediaService) logOrphan(rec *models.MediaRecord, name, msg string, err error) {
	m.log.Log(logger.LogEntry{
		Level:   "error",
		Message: "orphaned media record: " + msg,
		Fields: map[string]any{
			"record_id": rec.ID,
			"token":     rec.PublicToken,
			"path":      name,
		},
		Error: err,
	})
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
