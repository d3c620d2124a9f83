package server

import (
	"encoding/json"
	"log"
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

// Client is one user's socket into one conversation.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	UserID    int64
	PartnerID int64

	closeOnce sync.Once
	gone      bool // hub bookkeeping done; guarded by hub.mu
}

func (c *Client) room() pairKey {
	return pairOf(c.UserID, c.PartnerID)
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd wire.Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			log.Printf("[ws] dropping malformed command from user %d: %v", c.UserID, err)
			continue
		}
		c.dispatch(cmd)
	}
}

// dispatch handles one inbound command. Bad commands are logged and dropped,
// never fatal for the socket.
func (c *Client) dispatch(cmd wire.Command) {
	switch cmd.Type {
	case wire.CmdMessage:
		recipient := cmd.RecipientID
		if recipient == 0 {
			recipient = c.PartnerID
		}
		if cmd.Content == "" {
			log.Printf("[ws] empty message from user %d dropped", c.UserID)
			return
		}
		if _, err := c.Hub.SaveAndBroadcastMessage(c.UserID, recipient, cmd.Content); err != nil {
			log.Printf("[ws] message from user %d not saved: %v", c.UserID, err)
		}
	case wire.CmdEdit:
		if !c.Hub.EditAndBroadcast(c.UserID, cmd.MessageID, cmd.Content) {
			log.Printf("[ws] edit of message %d by user %d rejected", cmd.MessageID, c.UserID)
		}
	case wire.CmdDelete:
		if !c.Hub.DeleteAndBroadcast(c.UserID, cmd.MessageID) {
			log.Printf("[ws] delete of message %d by user %d rejected", cmd.MessageID, c.UserID)
		}
	case wire.CmdMarkRead:
		c.Hub.MarkReadAndBroadcast(c.UserID, c.PartnerID, cmd.MessageIDs)
	case wire.CmdCheckOnline:
		partner := cmd.PartnerID
		if partner == 0 {
			partner = c.PartnerID
		}
		c.Hub.AnswerOnline(c, partner)
	default:
		log.Printf("[ws] unknown command %q from user %d", cmd.Type, c.UserID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
