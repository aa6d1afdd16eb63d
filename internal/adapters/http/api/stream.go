package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/hub"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

const wsWriteWait = 10 * time.Second

// StreamHandler serves live round events over SSE and WebSocket. Both
// transports carry the same sequence: connected, the replayed history,
// live rounds, then final or resubscribe, after which the stream ends.
type StreamHandler struct {
	deps      StreamDependencies
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	logger    logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies, heartbeat time.Duration, log logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{
		deps:      deps,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log,
	}
}

// HandleSSE handles GET /tournaments/{id}/stream.
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rc := http.NewResponseController(w)

	sub, err := h.deps.Subscribe(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap("subscribe", err))
		return
	}
	defer sub.Close()

	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug(r.Context(), "write deadline not supported", logger.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn(r.Context(), "sse flush unsupported", logger.String("tournament_id", id), logger.Error(err))
		metrics.RecordErrorByComponent("sse", "flush_unsupported")
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug(r.Context(), "sse write failed", logger.String("tournament_id", id), logger.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if ends(ev) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if ev.Round != nil {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Round.Round); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// HandleWebSocket handles GET /tournaments/{id}/ws. The subscription is
// opened before the upgrade so an unknown tournament still gets a 404.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub, err := h.deps.Subscribe(ctx, id)
	if err != nil {
		writeFailure(w, Wrap("subscribe", err))
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.String("tournament_id", id), logger.Error(err))
		metrics.RecordErrorByComponent("websocket", "upgrade_failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// Clients only send control frames; the reader notices when they leave.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeWS(conn, websocket.CloseNormalClosure, "stream ended")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug(ctx, "websocket write failed", logger.String("tournament_id", id), logger.Error(err))
				return
			}
			if ends(ev) {
				h.closeWS(conn, websocket.CloseNormalClosure, string(ev.Type))
				return
			}
		}
	}
}

func (h *StreamHandler) closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// ends reports whether ev is the last event of its stream.
func ends(ev model.Event) bool {
	return ev.Type == model.EventFinal || ev.Type == model.EventResubscribe
}

var _ StreamDependencies = (*hub.Hub)(nil)
