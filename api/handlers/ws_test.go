package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xpio/chatcore/engine"
)

func TestHandleWSTurn(t *testing.T) {
	eng := &fakeEngine{turnEvents: turnEvents("conv-ws")}
	h := NewChatHandler(eng, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	req, err := json.Marshal(TurnRequest{SessionID: "conv-ws", Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	var events []engine.Event
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev engine.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Type == engine.EventDone || ev.Type == engine.EventError {
			break
		}
	}

	require.Len(t, events, 4)
	assert.Equal(t, engine.EventSessionID, events[0].Type)
	assert.Equal(t, "conv-ws", events[0].SessionID)
	assert.Equal(t, engine.EventDone, events[3].Type)
}

func TestHandleWSTurnError(t *testing.T) {
	eng := &fakeEngine{turnErr: context.DeadlineExceeded}
	h := NewChatHandler(eng, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	req, err := json.Marshal(TurnRequest{Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, engine.EventError, ev.Type)
	require.NotNil(t, ev.Error)

	// The connection survives a failed turn; the next request still works.
	eng.turnErr = nil
	eng.turnEvents = turnEvents("conv-2")
	req, err = json.Marshal(TurnRequest{SessionID: "conv-2", Message: "again"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, engine.EventSessionID, ev.Type)
}
