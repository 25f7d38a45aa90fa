package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// sseSink streams progress as text/event-stream. Headers go out with the
// first event, so a failure before any progress can still get a normal
// JSON error status.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseSink) event(data string) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *sseSink) Progress(percent float64) error {
	return s.event(strconv.FormatFloat(percent, 'f', 2, 64))
}

func (s *sseSink) Complete() error {
	return s.event("100")
}

// finish appends the final JSON body to the stream, or sends it as a plain
// JSON response when no event was written.
func (s *sseSink) finish(status int, body apiResponse) {
	if !s.started {
		writeJSON(s.w, status, body)
		return
	}
	_ = json.NewEncoder(s.w).Encode(body)
	_ = s.flush()
}
