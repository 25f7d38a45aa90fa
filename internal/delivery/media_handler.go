package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
)

const (
	maxFieldBytes = 64 << 10
	videoMIME     = "video/mp4"
)

// ProgressRooms hands out sinks that mirror upload progress to subscribers.
type ProgressRooms interface {
	RoomSink(roomID string) ports.ProgressSink
}

type MediaHandler struct {
	ingest   ports.MediaIngester
	delivery ports.MediaDelivery
	rooms    ProgressRooms
	log      *logger.ZapLogger

	maxUploadBytes int64
	uploadTimeout  time.Duration
}

type MediaHandlerConfig struct {
	MaxUploadBytes int64
	UploadTimeout  time.Duration
}

func NewMediaHandler(
	ingest ports.MediaIngester,
	delivery ports.MediaDelivery,
	rooms ProgressRooms,
	log *logger.ZapLogger,
	cfg MediaHandlerConfig,
) *MediaHandler {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Minute
	}
	return &MediaHandler{
		ingest:         ingest,
		delivery:       delivery,
		rooms:          rooms,
		log:            log,
		maxUploadBytes: cfg.MaxUploadBytes,
		uploadTimeout:  cfg.UploadTimeout,
	}
}

// POST /upload
//
// The multipart body is read once, in order. The video part is streamed
// into the file store's temp directory as it arrives, so fields may come
// before or after it.
//
// On success the response is a text/event-stream: one "data: <percent>"
// event per chunk of the stored file as it is read back from disk, then
// "data: 100", then the JSON result. The percentages describe that local
// re-read, not the network upload, which is already complete when the
// first event is sent.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	deadline := time.Now().Add(h.uploadTimeout)
	_ = http.NewResponseController(w).SetReadDeadline(deadline)

	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		h.rejectForm(w, fmt.Errorf("%w: %w", errMalformedForm, err))
		return
	}
	form, err := h.readUploadForm(ctx, mr)
	if err != nil {
		h.rejectForm(w, err)
		return
	}
	req := form.req

	sse := newSSESink(w)
	var sink ports.ProgressSink = sse
	if form.room != "" && h.rooms != nil {
		sink = domain.MultiSink{sse, h.rooms.RoomSink(form.room)}
	}

	res, err := h.ingest.Ingest(ctx, req, sink)
	if err != nil && res != nil {
		// the record and file are committed; only the confirmation was cut short
		status, msg := mapError(err)
		level, logMsg := "error", "upload committed, confirmation failed"
		if errors.Is(err, domain.ErrProgressAborted) || r.Context().Err() != nil {
			level, logMsg = "warn", "client disconnected after commit"
		}
		h.log.Log(logger.LogEntry{
			Level:   level,
			Message: logMsg,
			Fields: map[string]any{
				"token":    res.PublicToken,
				"filename": req.Filename,
			},
			Error: err,
		})
		sse.finish(status, apiResponse{Success: false, Message: msg, VideoID: res.PublicToken})
		return
	}
	if err != nil {
		status, msg := mapError(err)
		level := "error"
		if status < http.StatusInternalServerError {
			level = "info"
		}
		h.log.Log(logger.LogEntry{
			Level:   level,
			Message: "upload rejected",
			Fields: map[string]any{
				"status":   status,
				"filename": req.Filename,
			},
			Error: err,
		})
		sse.finish(status, apiResponse{Success: false, Message: msg})
		return
	}

	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "upload complete",
		Fields: map[string]any{
			"token":    res.PublicToken,
			"filename": req.Filename,
		},
	})
	sse.finish(http.StatusOK, apiResponse{
		Success: true,
		Message: "Video uploaded with ID " + res.PublicToken,
		VideoID: res.PublicToken,
	})
}

type parsedUpload struct {
	req  ports.IngestRequest
	room string
}

// readUploadForm walks the parts. The first value of each field wins.
// Unsupported file types are never written; validation rejects them by name.
func (h *MediaHandler) readUploadForm(ctx context.Context, mr *multipart.Reader) (*parsedUpload, error) {
	var (
		fields = make(map[string]string)
		req    ports.IngestRequest
	)
	fail := func(err error) (*parsedUpload, error) {
		if req.Staged != nil {
			_ = req.Staged.Discard()
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("%w: %w", errMalformedForm, err))
		}

		name := part.FormName()
		if name == "video" && part.FileName() != "" {
			if req.Filename != "" {
				part.Close()
				continue
			}
			req.Filename = part.FileName()
			if !domain.SupportedFilename(req.Filename) {
				req.File = http.NoBody
				part.Close()
				continue
			}
			staged, err := h.ingest.Stage(ctx, part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			req.Staged = staged
			continue
		}

		val, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		part.Close()
		if err != nil {
			return fail(fmt.Errorf("%w: %w", errMalformedForm, err))
		}
		if _, seen := fields[name]; !seen {
			fields[name] = string(val)
		}
	}

	req.Title = fields["title"]
	req.StartDateTime = fields["startDateTime"]
	req.Location = fields["location"]
	req.TermsChecked = fields["termsChecked"]
	return &parsedUpload{req: req, room: fields["roomID"]}, nil
}

func (h *MediaHandler) rejectForm(w http.ResponseWriter, err error) {
	status, msg := mapError(err)
	level := "warn"
	if status >= http.StatusInternalServerError {
		level = "error"
	}
	h.log.Log(logger.LogEntry{
		Level:   level,
		Message: "upload form read failed",
		Fields:  map[string]any{"status": status},
		Error:   err,
	})
	writeJSON(w, status, apiResponse{Success: false, Message: msg})
}

// GET /watch/{videoId}
func (h *MediaHandler) Watch(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "videoId")

	media, err := h.delivery.Open(r.Context(), token)
	if err != nil {
		status, _ := mapError(err)
		h.log.Log(logger.LogEntry{
			Level:   "info",
			Message: "watch unresolved",
			Fields:  map[string]any{"token": token, "status": status},
			Error:   err,
		})
		writeError(w, err)
		return
	}
	defer media.Content.Close()

	size := media.Size
	hdr := w.Header()
	hdr.Set("Accept-Ranges", "bytes")

	br, partial, err := domain.ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		hdr.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, apiResponse{Message: "Requested range not satisfiable"})
		return
	}

	hdr.Set("Content-Type", videoMIME)
	if !partial {
		hdr.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		h.stream(r, token, w, media.Content, size)
		return
	}

	if _, err := media.Content.Seek(br.Start, io.SeekStart); err != nil {
		hdr.Del("Content-Type")
		writeError(w, fmt.Errorf("seek: %w", err))
		return
	}
	hdr.Set("Content-Range", br.ContentRange(size))
	hdr.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	h.stream(r, token, w, media.Content, br.Length())
}

// stream copies n bytes. A client that goes away mid-stream just ends it.
func (h *MediaHandler) stream(r *http.Request, token string, w io.Writer, src io.Reader, n int64) {
	written, err := io.CopyN(w, src, n)
	if err == nil {
		return
	}
	level := "warn"
	if r.Context().Err() != nil {
		level = "info"
	}
	h.log.Log(logger.LogEntry{
		Level:   level,
		Message: "stream ended early",
		Fields: map[string]any{
			"token":   token,
			"written": written,
			"want":    n,
		},
		Error: err,
	})
}
