package delivery

import (
	"net/http"
	"strings"

	"github.com/Vovarama1992/clipvault/internal/delivery/ws"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(corsOrigins string, log *logger.ZapLogger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(corsOrigins),
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Range"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges"},
	}))
	return r
}

func RegisterRoutes(r chi.Router, hMedia *MediaHandler, hHealth *HealthHandler, hub *ws.Hub, log *logger.ZapLogger) {
	// ingestion
	r.Post("/upload", hMedia.Upload)

	// delivery
	r.Get("/watch/{videoId}", hMedia.Watch)
	r.Head("/watch/{videoId}", hMedia.Watch)

	// progress mirror
	if hub != nil {
		r.Get("/ws", ws.WSHandler(hub, log))
	}

	r.Get("/test_db", hHealth.TestDB)
	r.Get("/health", hHealth.Liveness)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiResponse{Message: "Not found"})
	})
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
