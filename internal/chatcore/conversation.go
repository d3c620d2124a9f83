// Package chatcore implements the real-time chat core: a per-conversation
// duplex channel with optimistic local state, reconnect and polling fallback,
// presence, and batched read receipts.
package chatcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tradelane/marketchat/internal/wire"
)

var ErrNotSignedIn = errors.New("chatcore: not signed in")

// Identity supplies the current user id and bearer token.
type Identity interface {
	UserID() int64
	Token() (string, error)
}

// Fallback is the request/response path used while the channel is not open.
// Each method maps 1:1 to a message REST endpoint.
type Fallback interface {
	History(ctx context.Context, partnerID int64) ([]Message, error)
	Send(ctx context.Context, partnerID int64, content string) (Message, error)
	Edit(ctx context.Context, messageID int64, content string) error
	Delete(ctx context.Context, messageID int64) error
}

// Events are UI notification hooks. All optional.
type Events struct {
	OnUpdate     func()                       // store changed; re-render
	OnSendFailed func(tempID, content string) // retry affordance
	OnPresence   func(online bool)
	OnState      func(State)
}

type Options struct {
	WSBaseURL      string // e.g. ws://localhost:8000/ws
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	SendTimeout    time.Duration
	ReadDebounce   time.Duration
	Logger         *slog.Logger
}

func (o *Options) withDefaults() {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.ReadDebounce == 0 {
		o.ReadDebounce = 300 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Conversation owns the chat state for one partner. Exactly one live
// Conversation exists per open chat view; switching partners closes the old
// one first.
type Conversation struct {
	partnerID int64
	selfID    int64
	fb        Fallback
	opts      Options
	log       *slog.Logger
	events    Events

	store    *Store
	presence *Presence
	receipts *ReadReceipts
	channel  *Channel

	mu         sync.Mutex
	sendTimers map[string]*time.Timer
	pollStop   chan struct{}
	closed     bool
}

// Open connects to the partner's chat channel and starts the polling
// fallback. A missing token blocks both paths, so it fails up front: the UI
// turns that into a "please sign in" prompt.
func Open(partnerID int64, id Identity, fb Fallback, events Events, opts Options) (*Conversation, error) {
	opts.withDefaults()
	token, err := id.Token()
	if err != nil {
		return nil, ErrNotSignedIn
	}

	c := &Conversation{
		partnerID:  partnerID,
		selfID:     id.UserID(),
		fb:         fb,
		opts:       opts,
		log:        opts.Logger,
		events:     events,
		store:      NewStore(id.UserID()),
		presence:   &Presence{},
		sendTimers: make(map[string]*time.Timer),
		pollStop:   make(chan struct{}),
	}
	c.receipts = NewReadReceipts(opts.ReadDebounce, c.emitReadBatch)

	wsURL := fmt.Sprintf("%s/chat/%d?token=%s",
		strings.TrimRight(opts.WSBaseURL, "/"), partnerID, url.QueryEscape(token))
	c.channel = NewChannel(wsURL, opts.ReconnectDelay, c.routeEvent, c.handleState, c.log)
	c.channel.Connect()

	go c.refresh()
	go c.pollLoop()
	return c, nil
}

// Messages returns the display-ordered projection of the store.
func (c *Conversation) Messages() []Message { return c.store.Messages() }

func (c *Conversation) PartnerOnline() (online, known bool) { return c.presence.Online() }

func (c *Conversation) State() State { return c.channel.State() }

// SendText appends an optimistic message and transmits it, over the socket
// when open, through the REST fallback otherwise. The returned temp id names
// the entry until the server confirms it.
func (c *Conversation) SendText(content string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", errors.New("chatcore: conversation closed")
	}
	c.mu.Unlock()

	tempID := c.store.AppendOptimistic(content)
	c.armSendTimer(tempID, content)
	c.notify()

	if err := c.channel.Send(wire.NewMessage(c.partnerID, content, tempID)); err != nil {
		go c.sendFallback(tempID, content)
	}
	return tempID, nil
}

// SendFileURL wraps an uploaded file URL in the file-message convention.
func (c *Conversation) SendFileURL(fileURL string) (string, error) {
	return c.SendText(wire.FileContent(fileURL))
}

// Edit mutates a message locally and propagates the change.
func (c *Conversation) Edit(messageID int64, content string) {
	if !c.store.ApplyEdit(messageID, content) {
		return
	}
	c.notify()
	if err := c.channel.Send(wire.Edit(messageID, content)); err != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.fb.Edit(ctx, messageID, content); err != nil {
				c.log.Warn("edit fallback failed", "message_id", messageID, "err", err)
			}
		}()
	}
}

// Delete removes a message locally and propagates the removal.
func (c *Conversation) Delete(messageID int64) {
	if !c.store.ApplyDelete(messageID) {
		return
	}
	c.notify()
	if err := c.channel.Send(wire.Delete(messageID)); err != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.fb.Delete(ctx, messageID); err != nil {
				c.log.Warn("delete fallback failed", "message_id", messageID, "err", err)
			}
		}()
	}
}

// Retry drops a failed entry and returns its content so the compose input can
// be re-populated.
func (c *Conversation) Retry(tempID string) (string, bool) {
	content, ok := c.store.TakeFailed(tempID)
	if ok {
		c.notify()
	}
	return content, ok
}

// Close tears the conversation down: poll loop, send timers, receipt timer,
// then the channel with a clean close.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.pollStop)
	for id, t := range c.sendTimers {
		t.Stop()
		delete(c.sendTimers, id)
	}
	c.mu.Unlock()

	c.receipts.Close()
	c.channel.Close()
}

func (c *Conversation) pollLoop() {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Polling only backfills while the socket is down; both paths
			// live at once would double-deliver for no gain.
			if c.channel.State() != StateOpen {
				c.refresh()
			}
		case <-c.pollStop:
			return
		}
	}
}

// refresh refetches the full history and syncs the store. Used for the
// initial load, the polling fallback, and post-reconnect catch-up.
func (c *Conversation) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	history, err := c.fb.History(ctx, c.partnerID)
	if err != nil {
		c.log.Warn("history fetch failed", "partner_id", c.partnerID, "err", err)
		return
	}
	c.store.Sync(history)
	c.markVisibleRead()
	c.notify()
}

func (c *Conversation) sendFallback(tempID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()
	m, err := c.fb.Send(ctx, c.partnerID, content)
	if err != nil {
		c.log.Warn("send fallback failed", "err", err)
		c.failSend(tempID, content)
		return
	}
	c.confirm(m)
}

// confirm folds a server copy of an own message into the store and disarms
// the matching send timer.
func (c *Conversation) confirm(m Message) {
	tempID, changed := c.store.ReconcileInbound(m)
	if tempID != "" {
		c.cancelSendTimer(tempID)
	}
	if changed {
		c.notify()
	}
}

func (c *Conversation) armSendTimer(tempID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sendTimers[tempID] = time.AfterFunc(c.opts.SendTimeout, func() {
		c.failSend(tempID, content)
	})
}

func (c *Conversation) cancelSendTimer(tempID string) {
	c.mu.Lock()
	if t, ok := c.sendTimers[tempID]; ok {
		t.Stop()
		delete(c.sendTimers, tempID)
	}
	c.mu.Unlock()
}

func (c *Conversation) failSend(tempID, content string) {
	c.cancelSendTimer(tempID)
	if !c.store.MarkFailed(tempID) {
		return
	}
	c.notify()
	if c.events.OnSendFailed != nil {
		c.events.OnSendFailed(tempID, content)
	}
}

// markVisibleRead flags unread partner messages as read locally and feeds
// them to the receipt coordinator. The conversation being open means they are
// on screen.
func (c *Conversation) markVisibleRead() {
	ids := c.store.UnreadFromPartner()
	if len(ids) == 0 {
		return
	}
	c.store.MarkRead(ids)
	c.receipts.Observe(ids)
}

func (c *Conversation) emitReadBatch(ids []int64) {
	if err := c.channel.Send(wire.MarkRead(ids)); err != nil {
		// History fetches mark messages read server-side, so the polling
		// path already covers this while the socket is down.
		c.log.Debug("read batch skipped, channel not open", "count", len(ids))
	}
}

func (c *Conversation) routeEvent(ev wire.Event) {
	switch ev.Type {
	case wire.EventMessage:
		m := fromWire(ev.Message)
		if m.Sender == c.selfID {
			c.confirm(m)
			return
		}
		if _, changed := c.store.ReconcileInbound(m); changed {
			c.markVisibleRead()
			c.notify()
		}
	case wire.EventUpdate:
		if c.store.ApplyEdit(ev.Message.ID, ev.Message.Content) {
			c.notify()
		}
	case wire.EventDelete:
		if c.store.ApplyDelete(ev.MessageID) {
			c.notify()
		}
	case wire.EventOnlineStatus:
		if ev.UserID.Int64() == c.partnerID {
			c.setPresence(ev.IsOnline)
		}
	case wire.EventStatus:
		if ev.UserID.Int64() == c.partnerID {
			c.setPresence(ev.Status == "online")
		}
	case wire.EventMessagesRead:
		if ev.ReaderID.Int64() != c.selfID {
			c.store.ApplyReadReceipt(ev.MessageIDs)
			c.notify()
		}
	}
}

func (c *Conversation) handleState(s State) {
	if c.events.OnState != nil {
		c.events.OnState(s)
	}
	switch s {
	case StateOpen:
		if err := c.channel.Send(wire.CheckOnline(c.partnerID)); err != nil {
			c.log.Warn("presence query failed", "err", err)
		}
		go c.refresh() // catch up on anything missed while down
	case StateClosedClean, StateClosedError:
		c.presence.Reset()
	}
}

func (c *Conversation) setPresence(online bool) {
	c.presence.Set(online)
	if c.events.OnPresence != nil {
		c.events.OnPresence(online)
	}
}

func (c *Conversation) notify() {
	if c.events.OnUpdate != nil {
		c.events.OnUpdate()
	}
}

func fromWire(wm *wire.Message) Message {
	m := Message{
		ID:        wm.ID,
		Content:   wm.Content,
		Timestamp: wm.SentAt(),
		Read:      wm.IsRead,
		Status:    StatusConfirmed,
	}
	if wm.Sender != nil {
		m.Sender = wm.Sender.ID.Int64()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return m
}
