package delivery

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vovarama1992/clipvault/internal/domain"
)

var errMalformedForm = errors.New("invalid multipart form")

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	VideoID string `json:"videoId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// mapError decides the status and client message for a domain error.
// Not-found and not-ready share one client shape.
func mapError(err error) (int, string) {
	var (
		verr     *domain.ValidationError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, errMalformedForm):
		return http.StatusBadRequest, "Invalid multipart form"
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotReady):
		return http.StatusNotFound, "Video not found"
	case errors.Is(err, domain.ErrAllocationExhausted):
		return http.StatusServiceUnavailable, "Could not allocate video id, try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := mapError(err)
	writeJSON(w, status, apiResponse{Success: false, Message: msg})
}
