package chatcore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a message held by the Store.
type Status uint8

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

type Message struct {
	ID        int64
	TempID    string
	Sender    int64
	Content   string
	Timestamp time.Time
	Read      bool
	Status    Status
}

// Store is the canonical, deduplicated, ordered view of one conversation's
// messages. It reconciles optimistic local sends with authoritative server
// copies: a logical message is represented by exactly one entry at all times.
type Store struct {
	mu     sync.Mutex
	selfID int64
	msgs   []Message
}

func NewStore(selfID int64) *Store {
	return &Store{selfID: selfID}
}

// AppendOptimistic inserts a pending-send message and returns its temp id.
func (s *Store) AppendOptimistic(content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tempID := uuid.NewString()
	s.msgs = append(s.msgs, Message{
		TempID:    tempID,
		Sender:    s.selfID,
		Content:   content,
		Timestamp: time.Now(),
		Status:    StatusPending,
	})
	return tempID
}

// ReconcileInbound folds an authoritative server message into the store.
// A pending local copy with the same sender and content is replaced in place
// (the correlation is heuristic: the backend does not echo client refs, so
// first matching pending wins). A known id is a duplicate delivery and is
// dropped. Anything else is appended. Returns the temp id that was consumed,
// if any, and whether the store changed.
func (s *Store) ReconcileInbound(m Message) (tempID string, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		cur := &s.msgs[i]
		if cur.Status == StatusPending && cur.Sender == m.Sender && cur.Content == m.Content {
			tempID = cur.TempID
			read := cur.Read || m.Read
			*cur = m
			cur.TempID = ""
			cur.Read = read
			cur.Status = StatusConfirmed
			return tempID, true
		}
	}
	if m.ID != 0 && s.indexOf(m.ID) >= 0 {
		return "", false
	}
	m.Status = StatusConfirmed
	s.msgs = append(s.msgs, m)
	return "", true
}

// Sync replaces the confirmed set with a freshly fetched history, as the
// polling fallback delivers it. Pending and failed local entries survive
// unless the fetched list confirms them; locally-set read flags survive.
func (s *Store) Sync(history []Message) {
	s.mu.Lock()
	read := make(map[int64]bool, len(s.msgs))
	var local []Message
	for _, m := range s.msgs {
		if m.Status != StatusConfirmed {
			local = append(local, m)
		} else if m.Read {
			read[m.ID] = true
		}
	}
	next := make([]Message, 0, len(history)+len(local))
	for _, m := range history {
		m.Status = StatusConfirmed
		m.TempID = ""
		if read[m.ID] {
			m.Read = true
		}
		// A pending copy confirmed by this fetch collapses into it.
		for i, p := range local {
			if p.Status == StatusPending && p.Sender == m.Sender && p.Content == m.Content {
				m.Read = m.Read || p.Read
				local = append(local[:i], local[i+1:]...)
				break
			}
		}
		next = append(next, m)
	}
	s.msgs = append(next, local...)
	s.mu.Unlock()
}

// MarkFailed transitions a still-pending message to send-failed.
func (s *Store) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].TempID == tempID && s.msgs[i].Status == StatusPending {
			s.msgs[i].Status = StatusFailed
			return true
		}
	}
	return false
}

// TakeFailed removes a failed entry and hands its content back so the caller
// can re-populate the compose input.
func (s *Store) TakeFailed(tempID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].TempID == tempID && s.msgs[i].Status == StatusFailed {
			content := s.msgs[i].Content
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return content, true
		}
	}
	return "", false
}

// ApplyEdit mutates content by id. Idempotent: both the socket and the poll
// may deliver the same edit.
func (s *Store) ApplyEdit(id int64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.msgs[i].Content = content
		return true
	}
	return false
}

// ApplyDelete removes by id. Idempotent.
func (s *Store) ApplyDelete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		return true
	}
	return false
}

// MarkRead sets the read flag on partner messages. Own messages are skipped:
// a user cannot read-receipt their own message. Returns the ids that actually
// flipped.
func (s *Store) MarkRead(ids []int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []int64
	for _, id := range ids {
		if i := s.indexOf(id); i >= 0 && s.msgs[i].Sender != s.selfID && !s.msgs[i].Read {
			s.msgs[i].Read = true
			flipped = append(flipped, id)
		}
	}
	return flipped
}

// ApplyReadReceipt flips the read flag on own messages when the partner
// reports having read them.
func (s *Store) ApplyReadReceipt(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if i := s.indexOf(id); i >= 0 && s.msgs[i].Sender == s.selfID {
			s.msgs[i].Read = true
		}
	}
}

// UnreadFromPartner lists confirmed partner messages not yet read locally.
func (s *Store) UnreadFromPartner() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, m := range s.msgs {
		if m.Status == StatusConfirmed && m.Sender != s.selfID && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Messages returns the display projection: a copy sorted by timestamp
// ascending, ties broken by id, regardless of arrival order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// indexOf finds a confirmed message by server id. Id 0 never matches: failed
// optimistic entries carry no server id, and a zero from a bad frame must not
// touch them. Callers hold s.mu.
func (s *Store) indexOf(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].ID == id && s.msgs[i].Status != StatusPending {
			return i
		}
	}
	return -1
}
