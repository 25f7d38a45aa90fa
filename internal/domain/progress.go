package domain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Vovarama1992/clipvault/internal/ports"
)

const DefaultProgressChunk = 64 << 10

// ProgressReporter re-reads a file that is already on disk and reports how
// much of it has been read. It does not measure the network transfer: by the
// time it runs the upload has been received in full. Clients relying on it
// see a fast climb to 100 after the request body has been sent.
type ProgressReporter struct {
	chunkSize int
}

func NewProgressReporter(chunkSize int) *ProgressReporter {
	if chunkSize <= 0 {
		chunkSize = DefaultProgressChunk
	}
	return &ProgressReporter{chunkSize: chunkSize}
}

// Report reads r to the end, sends one percentage per chunk and a final
// Complete. Values never decrease. A sink error stops the read.
func (p *ProgressReporter) Report(ctx context.Context, r io.Reader, size int64, sink ports.ProgressSink) error {
	buf := make([]byte, p.chunkSize)
	var read int64
	last := 0.0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			read += int64(n)
			pct := 100.0
			if size > 0 && read < size {
				pct = float64(read) / float64(size) * 100
			}
			if pct < last {
				pct = last
			}
			last = pct
			if serr := sink.Progress(pct); serr != nil {
				return fmt.Errorf("progress sink: %w", errors.Join(ErrProgressAborted, serr))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("re-read file: %w", err)
		}
	}

	if read != size {
		return fmt.Errorf("re-read %d of %d bytes: %w", read, size, ErrPersistence)
	}
	if err := sink.Complete(); err != nil {
		return fmt.Errorf("progress sink: %w", errors.Join(ErrProgressAborted, err))
	}
	return nil
}

// MultiSink fans progress out to several sinks. The first sink's errors
// abort the report; the rest are best effort.
type MultiSink []ports.ProgressSink

func (m MultiSink) Progress(percent float64) error {
	for i, s := range m {
		if err := s.Progress(percent); err != nil && i == 0 {
			return err
		}
	}
	return nil
}

func (m MultiSink) Complete() error {
	for i, s := range m {
		if err := s.Complete(); err != nil && i == 0 {
			return err
		}
	}
	return nil
}

type discardSink struct{}

func (discardSink) Progress(float64) error { return nil }
func (discardSink) Complete() error        { return nil }

// DiscardProgress is a sink that ignores everything.
var DiscardProgress ports.ProgressSink = discardSink{}
