package chatcore

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tradelane/marketchat/internal/wire"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer runs handle for every accepted connection, passing the 1-based
// connection ordinal.
func newWSServer(t *testing.T, handle func(n int32, conn *websocket.Conn)) (string, *int32) {
	t.Helper()
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&count, 1)
		handle(n, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &count
}

// drain keeps the server side reading so control frames are processed.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type eventCollector struct {
	mu     sync.Mutex
	events []wire.Event
}

func (c *eventCollector) add(ev wire.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestChannelRoutesInboundAndDropsMalformed(t *testing.T) {
	url, _ := newWSServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","user_id":"2","status":"online"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"delete","message_id":5}`))
		drain(conn)
	})

	var got eventCollector
	ch := NewChannel(url, time.Hour, got.add, nil, testLogger)
	ch.Connect()
	defer ch.Close()

	require.Eventually(t, func() bool { return got.len() == 2 }, 2*time.Second, 10*time.Millisecond,
		"malformed frame must be dropped, the rest delivered")
}

func TestAbnormalCloseSchedulesOneReconnect(t *testing.T) {
	url, count := newWSServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			conn.Close() // abnormal: no close handshake
			return
		}
		drain(conn)
	})

	ch := NewChannel(url, 50*time.Millisecond, nil, nil, testLogger)
	ch.Connect()
	defer ch.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(count) == 2 && ch.State() == StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	// one attempt per closure, never a stack of timers
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(2), atomic.LoadInt32(count))
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	url, count := newWSServer(t, func(n int32, conn *websocket.Conn) {
		conn.Close()
	})

	ch := NewChannel(url, 100*time.Millisecond, nil, nil, testLogger)
	ch.Connect()

	require.Eventually(t, func() bool { return ch.State() == StateClosedError }, 2*time.Second, 5*time.Millisecond)
	ch.Close()

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(count), "teardown before the delay must cancel the reconnect")
	require.Equal(t, StateClosedClean, ch.State())
}

func TestServerNormalCloseIsTerminal(t *testing.T) {
	url, count := newWSServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		drain(conn)
		conn.Close()
	})

	ch := NewChannel(url, 30*time.Millisecond, nil, nil, testLogger)
	ch.Connect()
	defer ch.Close()

	require.Eventually(t, func() bool { return ch.State() == StateClosedClean }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(count), "normal closure must not trigger the reconnect policy")
}

func TestSendRequiresOpenChannel(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:9/ws", time.Hour, nil, nil, testLogger)
	err := ch.Send(wire.CheckOnline(2))
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestSendDeliversCommand(t *testing.T) {
	received := make(chan []byte, 1)
	url, _ := newWSServer(t, func(n int32, conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
		drain(conn)
	})

	ch := NewChannel(url, time.Hour, nil, nil, testLogger)
	ch.Connect()
	defer ch.Close()

	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ch.Send(wire.NewMessage(2, "hello", "ref")))

	select {
	case data := <-received:
		require.Contains(t, string(data), `"type":"message"`)
		require.Contains(t, string(data), `"content":"hello"`)
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the server")
	}
}

func TestStateTransitions(t *testing.T) {
	url, _ := newWSServer(t, func(n int32, conn *websocket.Conn) {
		drain(conn)
	})

	var mu sync.Mutex
	var states []State
	ch := NewChannel(url, time.Hour, nil, func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}, testLogger)

	ch.Connect()
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	ch.Close()
	require.Eventually(t, func() bool { return ch.State() == StateClosedClean }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateConnecting, StateOpen, StateClosedClean}, states)
}
