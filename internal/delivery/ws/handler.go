package ws

import (
	"net/http"

	"github.com/Vovarama1992/go-utils/logger"
)

const maxClientMessage = 512

// WSHandler subscribes the connection to ?roomID= until the client leaves.
// Clients pass the same roomID as a multipart field on POST /upload.
func WSHandler(hub *Hub, log *logger.ZapLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("roomID")
		if roomID == "" {
			http.Error(w, "missing roomID", http.StatusBadRequest)
			return
		}

		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied
			log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "ws upgrade failed",
				Error:   err,
			})
			return
		}

		// subscribers only listen
		conn.SetReadLimit(maxClientMessage)

		hub.Register(roomID, conn)
		defer hub.Unregister(roomID, conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
