package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db  Pinger
	log *logger.ZapLogger
}

func NewHealthHandler(db Pinger, log *logger.ZapLogger) *HealthHandler {
	return &HealthHandler{db: db, log: log}
}

// GET /test_db
func (h *HealthHandler) TestDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "database ping failed",
			Error:   err,
		})
		writeJSON(w, http.StatusInternalServerError, apiResponse{
			Success: false,
			Message: "Database connection error",
			Error:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Database connection successful"})
}

// GET /health
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}
