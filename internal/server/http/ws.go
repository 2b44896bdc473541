package httpserver

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/statusdeck/internal/schema"
)

// wsBuffer bounds queued snapshots per client; a slow reader skips
// intermediate snapshots rather than stalling store delivery.
const wsBuffer = 8

type wsEnvelope struct {
	Type     string          `json:"type"`
	Snapshot schema.Snapshot `json:"snapshot"`
}

// serveWS upgrades the connection and streams the current snapshot followed
// by every subsequent store update.
func (s *httpServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:         nil,
		InsecureSkipVerify:   false,
		OriginPatterns:       []string{"*"},
		CompressionMode:      websocket.CompressionDisabled,
		CompressionThreshold: 0,
	})
	if err != nil {
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	updates := make(chan schema.Snapshot, wsBuffer)
	subID := s.store.Subscribe(func(update schema.Update) {
		select {
		case updates <- update.Current:
		default:
		}
	})
	defer s.store.Unsubscribe(subID)

	if err := writeWS(ctx, conn, wsEnvelope{Type: "snapshot", Snapshot: s.store.Snapshot()}); err != nil {
		return
	}

	// Discard client frames so pings and close handshakes are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			if err := writeWS(ctx, conn, wsEnvelope{Type: "update", Snapshot: snapshot}); err != nil {
				return
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, payload wsEnvelope) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}
