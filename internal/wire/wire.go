// Package wire defines the JSON envelopes exchanged over the chat channel.
// Inbound frames (server to client) carry a type discriminator and a payload;
// outbound frames are flat commands. The same types back both ends of the
// socket so the contract lives in one place.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Inbound event types.
const (
	EventMessage      = "message"
	EventUpdate       = "update"
	EventDelete       = "delete"
	EventOnlineStatus = "online_status"
	EventStatus       = "status"
	EventMessagesRead = "messages_read"
)

// Outbound command types.
const (
	CmdMessage     = "message"
	CmdEdit        = "edit"
	CmdDelete      = "delete"
	CmdMarkRead    = "mark_read"
	CmdCheckOnline = "check_online"
)

// FilePrefix marks message content that embeds an uploaded file URL rather
// than plain text.
const FilePrefix = "file::"

func FileContent(url string) string {
	return FilePrefix + url
}

// FileURL extracts the upload URL from file-message content.
func FileURL(content string) (string, bool) {
	if strings.HasPrefix(content, FilePrefix) {
		return strings.TrimPrefix(content, FilePrefix), true
	}
	return "", false
}

// UserID tolerates both JSON numbers and strings. Presence frames carry the
// user id as a string, everything else as a number.
type UserID int64

func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("wire: bad user id %q: %w", s, err)
	}
	*u = UserID(n)
	return nil
}

func (u UserID) Int64() int64 { return int64(u) }

type User struct {
	ID        UserID `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Message is the message payload inside "message" and "update" frames.
type Message struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Sender    *User  `json:"sender,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	IsRead    bool   `json:"is_read,omitempty"`
}

// SentAt parses the frame timestamp; zero time if absent or unparseable.
func (m Message) SentAt() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

type Event struct {
	Type       string   `json:"type"`
	Message    *Message `json:"message,omitempty"`
	MessageID  int64    `json:"message_id,omitempty"`
	MessageIDs []int64  `json:"message_ids,omitempty"`
	ReaderID   UserID   `json:"reader_id,omitempty"`
	UserID     UserID   `json:"user_id,omitempty"`
	IsOnline   bool     `json:"is_online,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// DecodeEvent parses an inbound frame. Unknown or malformed frames return an
// error; the channel logs and drops them.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("wire: malformed frame: %w", err)
	}
	switch ev.Type {
	case EventMessage:
		if ev.Message == nil {
			return Event{}, fmt.Errorf("wire: message frame without payload")
		}
	case EventUpdate:
		if ev.Message == nil || ev.Message.ID == 0 {
			return Event{}, fmt.Errorf("wire: update frame without a message id")
		}
	case EventDelete:
		if ev.MessageID == 0 {
			return Event{}, fmt.Errorf("wire: delete frame without a message id")
		}
	case EventOnlineStatus, EventStatus, EventMessagesRead:
	default:
		return Event{}, fmt.Errorf("wire: unknown frame type %q", ev.Type)
	}
	return ev, nil
}

// Command is an outbound client frame. ClientRef is a client-generated
// correlation id; the backend does not echo it, it exists for logging and a
// future server that does.
type Command struct {
	Type        string  `json:"type"`
	Content     string  `json:"content,omitempty"`
	RecipientID int64   `json:"recipient_id,omitempty"`
	MessageID   int64   `json:"message_id,omitempty"`
	MessageIDs  []int64 `json:"message_ids,omitempty"`
	PartnerID   int64   `json:"partner_id,omitempty"`
	ClientRef   string  `json:"client_ref,omitempty"`
}

func NewMessage(recipientID int64, content, clientRef string) Command {
	return Command{Type: CmdMessage, RecipientID: recipientID, Content: content, ClientRef: clientRef}
}

func Edit(messageID int64, content string) Command {
	return Command{Type: CmdEdit, MessageID: messageID, Content: content}
}

func Delete(messageID int64) Command {
	return Command{Type: CmdDelete, MessageID: messageID}
}

func MarkRead(ids []int64) Command {
	return Command{Type: CmdMarkRead, MessageIDs: ids}
}

func CheckOnline(partnerID int64) Command {
	return Command{Type: CmdCheckOnline, PartnerID: partnerID}
}
