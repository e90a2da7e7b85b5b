package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hzfeng/StratPilot/internal/ws"
)

var upgrader = websocket.Upgrader{}

func newAdapter(t *testing.T, handler func(*websocket.Conn)) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(c)
	}))
	t.Cleanup(srv.Close)

	registry := ws.NewRegistry(ws.Options{
		MaxReconnectAttempts: 1,
		ReconnectBase:        10 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
	}, zerolog.Nop())
	t.Cleanup(registry.Shutdown)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := NewAdapter(registry, url, "", zerolog.Nop())
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !a.Connected() {
		select {
		case <-deadline:
			t.Fatal("adapter never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return a
}

func waitEvent(t *testing.T, a *Adapter, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event observed", want)
		}
	}
}

func TestSendChatWritesFrame(t *testing.T) {
	frames := make(chan map[string]any, 4)
	a := newAdapter(t, func(c *websocket.Conn) {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				frames <- m
			}
		}
	})

	requestID, ok := a.SendChat("build me a momentum strategy", "sess-1", "strategy_chat", "general")
	if !ok {
		t.Fatal("SendChat should succeed while connected")
	}
	if requestID == "" {
		t.Fatal("SendChat must return a correlation id")
	}

	select {
	case frame := <-frames:
		if frame["type"] != "chat" {
			t.Fatalf("expected chat frame, got %v", frame["type"])
		}
		if frame["request_id"] != requestID {
			t.Fatalf("frame request id %v != %s", frame["request_id"], requestID)
		}
		if frame["session_id"] != "sess-1" || frame["mode"] != "strategy_chat" {
			t.Fatalf("frame missing session routing: %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the chat frame")
	}
}

func TestInboundFramesBecomeTypedEvents(t *testing.T) {
	a := newAdapter(t, func(c *websocket.Conn) {
		frames := []string{
			`{"type":"start","request_id":"req-1"}`,
			`{"type":"progress","request_id":"req-1","progress":0.4,"message":"thinking"}`,
			`{"type":"stream_start","request_id":"req-1"}`,
			`{"type":"stream_chunk","request_id":"req-1","content":"hello"}`,
			`{"type":"stream_end","request_id":"req-1","content":"hello world","cost_usd":0.012,"tokens_used":42}`,
			`{"type":"garbage-type"}`,
			`not even json`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		select {}
	})

	start := waitEvent(t, a, EventStart)
	if start.RequestID != "req-1" {
		t.Fatalf("start request id: %s", start.RequestID)
	}

	progress := waitEvent(t, a, EventProgress)
	if progress.Progress != 0.4 || progress.Message != "thinking" {
		t.Fatalf("progress event mismatch: %+v", progress)
	}

	waitEvent(t, a, EventStreamStart)

	chunk := waitEvent(t, a, EventStreamChunk)
	if chunk.Content != "hello" {
		t.Fatalf("chunk content: %s", chunk.Content)
	}

	end := waitEvent(t, a, EventStreamEnd)
	if end.Content != "hello world" {
		t.Fatalf("end content: %s", end.Content)
	}
	if end.TokensUsed != 42 {
		t.Fatalf("end tokens: %d", end.TokensUsed)
	}
	if end.CostUSD.String() != "0.012" {
		t.Fatalf("end cost: %s", end.CostUSD)
	}
}

func TestConnectionLossEmitsDisconnected(t *testing.T) {
	a := newAdapter(t, func(c *websocket.Conn) {
		_ = c.Close()
	})

	ev := waitEvent(t, a, EventDisconnected)
	if ev.Code != "connection_closed" {
		t.Fatalf("unexpected disconnect code: %s", ev.Code)
	}
}

func TestSendChatFailsWhenDisconnected(t *testing.T) {
	a := newAdapter(t, func(c *websocket.Conn) {
		select {}
	})
	a.Close()

	if _, ok := a.SendChat("hi", "sess", "strategy_chat", "general"); ok {
		t.Fatal("SendChat should fail after Close")
	}
}
