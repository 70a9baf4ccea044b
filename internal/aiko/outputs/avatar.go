package outputs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/velvetcat/aiko/internal/aiko/event"
)

// writeWait bounds how long a single client write may stall before the
// client is considered dead and dropped.
const writeWait = 5 * time.Second

// AvatarHub is both a Sink and an http.Handler: avatar renderers connect
// over WebSocket and receive one JSON frame per accepted response. A dead or
// slow client is dropped; it never blocks delivery to the others.
type AvatarHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewAvatarHub creates an empty hub. If logger is nil the default slog
// logger is used.
func NewAvatarHub(logger *slog.Logger) *AvatarHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &AvatarHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Renderers run on the same host or a trusted LAN overlay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Name implements Sink.
func (h *AvatarHub) Name() string { return "avatar" }

// ServeHTTP upgrades the connection and registers the client. The read side
// is drained only to detect disconnects — clients never send payloads.
func (h *AvatarHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("avatar hub: upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("avatar hub: client connected", "remote", r.RemoteAddr, "clients", count)

	go h.drain(conn)
}

// drain blocks on the read side until the client disconnects.
func (h *AvatarHub) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *AvatarHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

type avatarFrame struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Emotion   string    `json:"emotion"`
	Priority  int       `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// Handle broadcasts one speak frame to every connected renderer. Write
// failures drop the offending client and are not reported as sink errors —
// a hub with zero clients is a valid state, not a failure.
func (h *AvatarHub) Handle(ctx context.Context, out event.OutputEvent) error {
	frame, err := json.Marshal(avatarFrame{
		Type:      "speak",
		Text:      out.Text,
		Emotion:   out.Emotion,
		Priority:  int(out.Priority),
		Timestamp: out.Timestamp,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Warn("avatar hub: dropping client", "err", err)
			h.remove(conn)
		}
	}
	return nil
}

// ClientCount returns the number of connected renderers.
func (h *AvatarHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var _ Sink = (*AvatarHub)(nil)
