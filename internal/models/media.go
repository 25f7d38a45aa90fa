package models

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	StatusPending = "pending" // metadata registered, file not placed yet
	StatusReady   = "ready"
	StatusFailed  = "failed" // marked by the reconciler
)

type MediaRecord struct {
	ID               int64     `db:"id"`           // storage-assigned, never exposed
	PublicToken      string    `db:"public_token"` // the only client-facing id
	Title            string    `db:"title"`
	Location         *string   `db:"location"`
	StartTime        time.Time `db:"start_time"`
	OriginalFilename string    `db:"original_filename"`
	StoragePath      *string   `db:"storage_path"` // nil until the file is relocated
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Extension returns the lowercased extension of the declared filename without the dot.
func (m *MediaRecord) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(m.OriginalFilename)), ".")
}

// Placed reports whether the file has been relocated to its final path.
func (m *MediaRecord) Placed() bool {
	return m.StoragePath != nil && *m.StoragePath != "" && m.Status == StatusReady
}
