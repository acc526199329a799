package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/xpio/chatcore/engine"
)

const wsWriteTimeout = 10 * time.Second

// HandleWS upgrades to WebSocket and serves turns over it. Each inbound text
// frame is one TurnRequest; the engine events for that turn are written back
// as JSON frames before the next request is read.
// GET /v1/chat/ws
func (h *ChatHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	for {
		var req TurnRequest
		if err := readJSON(ctx, conn, &req); err != nil {
			h.logger.Debug("websocket read ended", zap.Error(err))
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}

		sessionID, events, err := h.engine.HandleTurn(ctx, req.SessionID, req.Message)
		if err != nil {
			if werr := writeJSON(ctx, conn, engine.Event{
				Type:  engine.EventError,
				Error: engine.ErrorFor(err),
			}); werr != nil {
				return
			}
			continue
		}

		h.logger.Debug("websocket turn started", zap.String("session_id", sessionID))
		for ev := range events {
			if err := writeJSON(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket client disconnected",
					zap.String("session_id", sessionID), zap.Error(err))
				go drainEvents(events)
				return
			}
		}
	}
}

func readJSON(ctx context.Context, conn *websocket.Conn, dst any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
