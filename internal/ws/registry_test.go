package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

// newWSServer runs handler for every accepted connection and returns the
// ws:// URL plus a dial counter.
func newWSServer(t *testing.T, handler func(*websocket.Conn)) (string, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		handler(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &dials
}

func testOptions() Options {
	return Options{
		MaxReconnectAttempts: 2,
		ReconnectBase:        10 * time.Millisecond,
		HeartbeatInterval:    time.Hour, // keep quiet unless a test wants it
		HandshakeTimeout:     time.Second,
	}
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r := NewRegistry(opts, zerolog.Nop())
	t.Cleanup(r.Shutdown)
	return r
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, expected := range want {
		if got := BackoffDelay(base, i+1); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestConnectSendsAuthFrameFirst(t *testing.T) {
	firstFrame := make(chan string, 1)
	url, _ := newWSServer(t, func(c *websocket.Conn) {
		_, data, err := c.ReadMessage()
		if err == nil {
			firstFrame <- string(data)
		}
		select {} // hold the connection open
	})

	r := newTestRegistry(t, testOptions())
	opened := make(chan struct{}, 1)
	err := r.Connect("assistant", url, "secret-token", Handlers{
		OnOpen: func(key string) { opened <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never opened")
	}

	select {
	case frame := <-firstFrame:
		if !strings.Contains(frame, `"type":"auth"`) || !strings.Contains(frame, "secret-token") {
			t.Fatalf("expected auth frame first, got %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a frame")
	}

	st := r.Status("assistant")
	if !st.Connected || st.State != StateOpen {
		t.Fatalf("expected open status, got %+v", st)
	}
}

func TestConnectRejectsBadEndpoint(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	if err := r.Connect("bad", "http://not-a-ws", "", Handlers{}); err == nil {
		t.Fatal("expected error for non-websocket endpoint")
	}
	if err := r.Connect("", "ws://example", "", Handlers{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestSendReturnsFalseWhenNotOpen(t *testing.T) {
	r := newTestRegistry(t, testOptions())
	if r.Send("missing", "hello") {
		t.Fatal("send to unknown key should return false")
	}
}

func TestSendRoundTrip(t *testing.T) {
	received := make(chan string, 4)
	url, _ := newWSServer(t, func(c *websocket.Conn) {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	r := newTestRegistry(t, testOptions())
	opened := make(chan struct{}, 1)
	if err := r.Connect("assistant", url, "", Handlers{
		OnOpen: func(string) { opened <- struct{}{} },
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-opened

	if !r.Send("assistant", map[string]string{"type": "chat", "content": "hi"}) {
		t.Fatal("send on open connection should succeed")
	}
	if !r.Send("assistant", "raw-string") {
		t.Fatal("string passthrough should succeed")
	}

	for _, want := range []string{`"type":"chat"`, "raw-string"} {
		select {
		case frame := <-received:
			if !strings.Contains(frame, want) {
				t.Fatalf("expected frame containing %s, got %s", want, frame)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server never received frame containing %s", want)
		}
	}
}

func TestReconnectStopsAfterMaxAttempts(t *testing.T) {
	url, dials := newWSServer(t, func(c *websocket.Conn) {
		// Abnormal close: drop the socket without a close handshake.
		_ = c.Close()
	})

	r := newTestRegistry(t, testOptions())
	var closes atomic.Int32
	if err := r.Connect("assistant", url, "", Handlers{
		OnClose: func(key string, code int) { closes.Add(1) },
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Initial dial plus two reconnect attempts, then the record is dropped.
	deadline := time.After(3 * time.Second)
	for dials.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 dials, got %d", dials.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give the exhausted record time to prove it stays dead.
	time.Sleep(200 * time.Millisecond)
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected exactly 3 dials after budget exhaustion, got %d", got)
	}
	if st := r.Status("assistant"); st.Connected {
		t.Fatalf("expected disconnected status, got %+v", st)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	block := make(chan struct{})
	url, dials := newWSServer(t, func(c *websocket.Conn) {
		<-block
		_ = c.Close()
	})

	r := newTestRegistry(t, testOptions())
	opened := make(chan struct{}, 1)
	if err := r.Connect("assistant", url, "", Handlers{
		OnOpen: func(string) { opened <- struct{}{} },
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-opened

	r.Disconnect("assistant")
	close(block) // late close event arrives after the disconnect

	time.Sleep(200 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Fatalf("expected no reconnect after disconnect, got %d dials", got)
	}
	if st := r.Status("assistant"); st.State != StateClosed {
		t.Fatalf("expected closed state, got %+v", st)
	}
}

func TestConnectIsIdempotentPerKey(t *testing.T) {
	var mu sync.Mutex
	var serverConns []*websocket.Conn
	url, dials := newWSServer(t, func(c *websocket.Conn) {
		mu.Lock()
		serverConns = append(serverConns, c)
		mu.Unlock()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	r := newTestRegistry(t, testOptions())
	opened := make(chan struct{}, 2)
	h := Handlers{OnOpen: func(string) { opened <- struct{}{} }}

	if err := r.Connect("assistant", url, "", h); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	<-opened
	if err := r.Connect("assistant", url, "", h); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	<-opened

	if got := dials.Load(); got != 2 {
		t.Fatalf("expected 2 dials, got %d", got)
	}
	if len(r.AllStatus()) != 1 {
		t.Fatalf("expected a single registered connection, got %d", len(r.AllStatus()))
	}
	if st := r.Status("assistant"); !st.Connected {
		t.Fatalf("expected replacement connection open, got %+v", st)
	}

	// The first server-side socket must have been closed by the teardown.
	mu.Lock()
	first := serverConns[0]
	mu.Unlock()
	_ = first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected first connection to be closed")
	}
}

func TestHeartbeatPingsOpenConnections(t *testing.T) {
	frames := make(chan string, 8)
	url, _ := newWSServer(t, func(c *websocket.Conn) {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	})

	opts := testOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	r := newTestRegistry(t, opts)

	opened := make(chan struct{}, 1)
	if err := r.Connect("assistant", url, "", Handlers{
		OnOpen: func(string) { opened <- struct{}{} },
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-opened

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-frames:
			if strings.Contains(frame, `"type":"ping"`) {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat ping observed")
		}
	}
}
