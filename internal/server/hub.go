package server

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"

	"github.com/tradelane/marketchat/internal/wire"
)

// pairKey names a 1:1 chat room by its two user ids, smaller id first, so
// both participants land in the same room no matter who connected.
type pairKey struct {
	a, b int64
}

func pairOf(x, y int64) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

// Hub routes chat frames between the sockets of a conversation's two
// participants and tracks who is online.
type Hub struct {
	DB     *sql.DB
	Driver string

	register   chan *Client
	unregister chan *Client

	mu    sync.Mutex
	rooms map[pairKey]map[*Client]bool
	// userID -> open socket count (handles multi-tab)
	online map[int64]int
}

func NewHub(db *sql.DB, driver string) *Hub {
	return &Hub{
		DB:         db,
		Driver:     driver,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[pairKey]map[*Client]bool),
		online:     make(map[int64]int),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			room := client.room()
			h.mu.Lock()
			if h.rooms[room] == nil {
				h.rooms[room] = make(map[*Client]bool)
			}
			h.rooms[room][client] = true
			h.online[client.UserID]++
			h.mu.Unlock()
			h.broadcastStatus(room, client.UserID, "online")
		case client := <-h.unregister:
			room := client.room()
			h.mu.Lock()
			wentOffline := false
			if !client.gone {
				client.gone = true
				client.closeSend()
				if set, ok := h.rooms[room]; ok {
					delete(set, client)
					if len(set) == 0 {
						delete(h.rooms, room)
					}
				}
				h.online[client.UserID]--
				if h.online[client.UserID] <= 0 {
					delete(h.online, client.UserID)
					wentOffline = true
				}
			}
			h.mu.Unlock()
			if wentOffline {
				h.broadcastStatus(room, client.UserID, "offline")
			}
		}
	}
}

// SaveAndBroadcastMessage persists a new message and fans the confirmed copy
// out to both participants' sockets. Also used by the REST send path so the
// socket and fallback paths stay in sync.
func (h *Hub) SaveAndBroadcastMessage(senderID, recipientID int64, content string) (messageRow, error) {
	m, err := insertMessage(h.DB, h.Driver, senderID, recipientID, content)
	if err != nil {
		log.Printf("[hub] failed to insert message from %d: %v", senderID, err)
		return m, err
	}
	sender, err := getUser(h.DB, h.Driver, senderID)
	if err != nil {
		log.Printf("[hub] failed to fetch sender %d: %v", senderID, err)
		sender = userRow{ID: senderID, Username: "unknown"}
	}

	ev := wire.Event{
		Type: wire.EventMessage,
		Message: &wire.Message{
			ID:      m.ID,
			Content: m.Content,
			Sender: &wire.User{
				ID:        wire.UserID(sender.ID),
				Username:  sender.Username,
				FirstName: sender.FirstName,
				LastName:  sender.LastName,
			},
			Timestamp: m.JSON().Timestamp,
			IsRead:    false,
		},
	}
	h.broadcast(pairOf(senderID, recipientID), ev)
	return m, nil
}

// EditAndBroadcast applies an author-only content edit and fans out the
// update frame. Returns false when the message is not the author's.
func (h *Hub) EditAndBroadcast(authorID, messageID int64, content string) bool {
	ok, err := updateMessageContent(h.DB, h.Driver, messageID, authorID, content)
	if err != nil || !ok {
		return false
	}
	m, err := getMessage(h.DB, h.Driver, messageID)
	if err != nil {
		log.Printf("[hub] failed to reload edited message %d: %v", messageID, err)
		return false
	}
	ev := wire.Event{
		Type: wire.EventUpdate,
		Message: &wire.Message{
			ID:        m.ID,
			Content:   m.Content,
			Timestamp: m.JSON().Timestamp,
		},
	}
	h.broadcast(pairOf(m.SenderID, m.RecipientID), ev)
	return true
}

// DeleteAndBroadcast soft-deletes an author's message and fans out the delete
// frame. Re-deleting an already deleted id is a no-op.
func (h *Hub) DeleteAndBroadcast(authorID, messageID int64) bool {
	m, err := getMessage(h.DB, h.Driver, messageID)
	if err != nil {
		return false
	}
	ok, err := softDeleteMessage(h.DB, h.Driver, messageID, authorID)
	if err != nil || !ok {
		return false
	}
	h.broadcast(pairOf(m.SenderID, m.RecipientID), wire.Event{
		Type:      wire.EventDelete,
		MessageID: messageID,
	})
	return true
}

// MarkReadAndBroadcast flags the reader's received messages read and notifies
// both sides so the sender's read ticks flip.
func (h *Hub) MarkReadAndBroadcast(readerID, partnerID int64, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := markMessagesRead(h.DB, h.Driver, readerID, ids); err != nil {
		log.Printf("[hub] failed to mark messages read for %d: %v", readerID, err)
		return
	}
	h.broadcast(pairOf(readerID, partnerID), wire.Event{
		Type:       wire.EventMessagesRead,
		MessageIDs: ids,
		ReaderID:   wire.UserID(readerID),
	})
}

// AnswerOnline replies directly to the asking socket with the partner's
// current online status.
func (h *Hub) AnswerOnline(c *Client, partnerID int64) {
	h.mu.Lock()
	isOnline := h.online[partnerID] > 0
	h.mu.Unlock()

	payload, err := json.Marshal(wire.Event{
		Type:     wire.EventOnlineStatus,
		UserID:   wire.UserID(partnerID),
		IsOnline: isOnline,
	})
	if err != nil {
		log.Printf("[hub] failed to marshal online status: %v", err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("[hub] dropped online status for slow client %d", c.UserID)
	}
}

func (h *Hub) broadcastStatus(room pairKey, userID int64, status string) {
	h.broadcast(room, wire.Event{
		Type:   wire.EventStatus,
		UserID: wire.UserID(userID),
		Status: status,
	})
}

func (h *Hub) broadcast(room pairKey, ev wire.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] failed to marshal %s frame: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[room]
	for client := range set {
		select {
		case client.Send <- payload:
		default:
			// slow/broken client → drop; the pump exit unregisters it
			client.closeSend()
			delete(set, client)
			log.Printf("[hub] dropped slow client for user %d", client.UserID)
		}
	}
}
