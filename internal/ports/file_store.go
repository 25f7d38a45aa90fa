package ports

import (
	"io"
	"time"
)

// TempFile is an upload being received under a random name.
type TempFile interface {
	io.Writer
	Size() int64
	// CommitAs atomically moves the temp file to name inside the served directory.
	CommitAs(name string) error
	// Discard removes the temp file unless it was committed. Safe to call twice.
	Discard() error
}

type FileStore interface {
	NewTemp() (TempFile, error)
	// Open returns the placed file and its size.
	Open(name string) (io.ReadSeekCloser, int64, error)
	Remove(name string) error
	SweepTemp(olderThan time.Time) (int, error)
}
