package chatcore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradelane/marketchat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
)

// State is the connection state of a Channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosedClean
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedClean:
		return "closed-clean"
	default:
		return "closed-error"
	}
}

var ErrNotOpen = errors.New("chatcore: channel is not open")

// Channel is the duplex connection for exactly one conversation. On abnormal
// closure it schedules a single reconnect attempt after a fixed delay; an
// intentional Close sends the normal-closure code so the reconnect policy
// stays quiet. Callers degrade to the HTTP fallback while the channel is not
// open.
type Channel struct {
	url     string
	delay   time.Duration
	dialer  *websocket.Dialer
	onEvent func(wire.Event)
	onState func(State)
	log     *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	send      chan []byte
	reconnect *time.Timer
	closing   bool
}

func NewChannel(url string, reconnectDelay time.Duration, onEvent func(wire.Event), onState func(State), log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		url:     url,
		delay:   reconnectDelay,
		dialer:  websocket.DefaultDialer,
		onEvent: onEvent,
		onState: onState,
		log:     log,
		state:   StateClosedClean,
	}
}

// Connect starts dialing in the background. The caller observes the outcome
// through the state callback.
func (ch *Channel) Connect() {
	ch.setState(StateConnecting)
	go ch.dial()
}

func (ch *Channel) dial() {
	conn, _, err := ch.dialer.Dial(ch.url, nil)

	ch.mu.Lock()
	if ch.closing {
		ch.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		ch.mu.Unlock()
		ch.log.Warn("chat channel dial failed", "err", err)
		ch.setState(StateClosedError)
		ch.scheduleReconnect()
		return
	}
	ch.conn = conn
	ch.send = make(chan []byte, 64)
	send := ch.send
	ch.mu.Unlock()

	ch.setState(StateOpen)
	go ch.writePump(conn, send)
	go ch.readPump(conn)
}

// Send transmits one command over the open socket. ErrNotOpen tells the
// caller to take the HTTP fallback path instead.
func (ch *Channel) Send(cmd wire.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != StateOpen || ch.send == nil {
		return ErrNotOpen
	}
	select {
	case ch.send <- payload:
		return nil
	default:
		return ErrNotOpen
	}
}

func (ch *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		ev, err := wire.DecodeEvent(data)
		if err != nil {
			ch.log.Warn("dropping inbound frame", "err", err)
			continue
		}
		if ch.onEvent != nil {
			ch.onEvent(ev)
		}
	}

	ch.mu.Lock()
	intentional := ch.closing
	if ch.conn == conn {
		ch.conn = nil
	}
	if ch.send != nil {
		close(ch.send)
		ch.send = nil
	}
	ch.mu.Unlock()
	conn.Close()

	if intentional || websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		ch.setState(StateClosedClean)
		return
	}
	ch.log.Warn("chat channel closed abnormally", "err", readErr)
	ch.setState(StateClosedError)
	ch.scheduleReconnect()
}

func (ch *Channel) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// scheduleReconnect arms the single reconnect timer. A pending timer is
// replaced, never stacked.
func (ch *Channel) scheduleReconnect() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closing {
		return
	}
	if ch.reconnect != nil {
		ch.reconnect.Stop()
	}
	ch.reconnect = time.AfterFunc(ch.delay, func() {
		ch.mu.Lock()
		ch.reconnect = nil
		closing := ch.closing
		ch.mu.Unlock()
		if closing {
			return
		}
		ch.setState(StateConnecting)
		ch.dial()
	})
}

// Close tears the channel down for good: the pending reconnect timer is
// cancelled and the peer sees a normal closure. The channel instance is done;
// a new conversation view builds a new one.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closing {
		ch.mu.Unlock()
		return
	}
	ch.closing = true
	if ch.reconnect != nil {
		ch.reconnect.Stop()
		ch.reconnect = nil
	}
	hadConn := ch.conn != nil
	if ch.send != nil {
		close(ch.send) // writePump emits the normal-closure frame
		ch.send = nil
	}
	ch.mu.Unlock()

	if !hadConn {
		ch.setState(StateClosedClean)
	}
}

func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s State) {
	ch.mu.Lock()
	if ch.state == s {
		ch.mu.Unlock()
		return
	}
	ch.state = s
	cb := ch.onState
	ch.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
