package ui

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams the progress of a book: first the recorded
// history, then live events until the run finishes.
func (ui *BookUI) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	if !isValidBookID(bookID) {
		http.Error(w, "Invalid book id", http.StatusBadRequest)
		return
	}
	history, updates, unsubscribe, ok := ui.hub.Subscribe(bookID)
	if !ok {
		http.Error(w, "No generation for this book", http.StatusNotFound)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ui.log.Warn("websocket upgrade failed", slog.String("book", bookID), slog.Any("error", err))
		return
	}
	defer conn.Close()
	log := ui.log.With(slog.String("book", bookID))
	log.Debug("websocket connected", slog.Int("history", len(history)))

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// The reader only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read error", slog.Any("error", err))
				}
				return
			}
		}
	}()

	for _, ev := range history {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, open := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !open {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ui.ctx.Done():
			return
		}
	}
}
