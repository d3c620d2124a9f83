package chatcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const selfID = int64(1)

func confirmed(id, sender int64, content string, at time.Time) Message {
	return Message{ID: id, Sender: sender, Content: content, Timestamp: at, Status: StatusConfirmed}
}

func TestReconcileConfirmsOptimisticSend(t *testing.T) {
	s := NewStore(selfID)
	tempID := s.AppendOptimistic("Hello")
	require.NotEmpty(t, tempID)

	got, changed := s.ReconcileInbound(confirmed(42, selfID, "Hello", time.Now()))
	require.True(t, changed)
	require.Equal(t, tempID, got)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(42), msgs[0].ID)
	require.Equal(t, "Hello", msgs[0].Content)
	require.Equal(t, StatusConfirmed, msgs[0].Status)
	require.Empty(t, msgs[0].TempID)
}

func TestReconcileDropsDuplicateDelivery(t *testing.T) {
	s := NewStore(selfID)
	m := confirmed(42, 2, "hi", time.Now())

	_, changed := s.ReconcileInbound(m)
	require.True(t, changed)
	// same message again via the polling path
	_, changed = s.ReconcileInbound(m)
	require.False(t, changed)
	require.Equal(t, 1, s.Len())
}

func TestReconcilePreservesLocalReadFlag(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(11, 2, "yo", time.Now()))
	s.MarkRead([]int64{11})
	// duplicate delivery without the read flag must not clear it
	_, _ = s.ReconcileInbound(confirmed(11, 2, "yo", time.Now()))
	require.True(t, s.Messages()[0].Read)
}

func TestIdempotentEdit(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(42, 2, "Hello", time.Now()))

	require.True(t, s.ApplyEdit(42, "Hello!"))
	require.True(t, s.ApplyEdit(42, "Hello!")) // duplicate delivery, same result
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "Hello!", msgs[0].Content)

	require.False(t, s.ApplyEdit(999, "nope"))
}

func TestIdempotentDelete(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(42, 2, "Hello", time.Now()))

	require.True(t, s.ApplyDelete(42))
	require.False(t, s.ApplyDelete(42))
	require.Equal(t, 0, s.Len())
}

func TestOrderingByTimestamp(t *testing.T) {
	s := NewStore(selfID)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	// arrival order deliberately scrambled
	_, _ = s.ReconcileInbound(confirmed(3, 2, "third", base.Add(2*time.Second)))
	_, _ = s.ReconcileInbound(confirmed(1, 2, "first", base))
	_, _ = s.ReconcileInbound(confirmed(2, selfID, "second", base.Add(time.Second)))

	msgs := s.Messages()
	require.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(1, selfID, "mine", time.Now()))
	_, _ = s.ReconcileInbound(confirmed(2, 2, "theirs", time.Now()))

	flipped := s.MarkRead([]int64{1, 2})
	require.Equal(t, []int64{2}, flipped)

	msgs := s.Messages()
	for _, m := range msgs {
		if m.ID == 1 {
			require.False(t, m.Read, "own message must not be read-receipted")
		}
		if m.ID == 2 {
			require.True(t, m.Read)
		}
	}

	// second pass flips nothing
	require.Empty(t, s.MarkRead([]int64{1, 2}))
}

func TestApplyReadReceiptFlipsOwnOnly(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(1, selfID, "mine", time.Now()))
	_, _ = s.ReconcileInbound(confirmed(2, 2, "theirs", time.Now()))

	s.ApplyReadReceipt([]int64{1, 2})
	for _, m := range s.Messages() {
		if m.ID == 1 {
			require.True(t, m.Read)
		}
		if m.ID == 2 {
			require.False(t, m.Read)
		}
	}
}

func TestMarkFailedAndRetake(t *testing.T) {
	s := NewStore(selfID)
	tempID := s.AppendOptimistic("Hi")

	require.True(t, s.MarkFailed(tempID))
	require.False(t, s.MarkFailed(tempID), "already failed")

	content, ok := s.TakeFailed(tempID)
	require.True(t, ok)
	require.Equal(t, "Hi", content)
	require.Equal(t, 0, s.Len())
}

func TestMarkFailedIgnoresConfirmed(t *testing.T) {
	s := NewStore(selfID)
	tempID := s.AppendOptimistic("Hello")
	_, _ = s.ReconcileInbound(confirmed(42, selfID, "Hello", time.Now()))

	// confirmation won the race; the late timer must not flip it
	require.False(t, s.MarkFailed(tempID))
	require.Equal(t, StatusConfirmed, s.Messages()[0].Status)
}

func TestSyncPreservesLocalState(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(1, 2, "old", time.Now().Add(-time.Minute)))
	s.MarkRead([]int64{1})
	pending := s.AppendOptimistic("unsent")
	failedID := s.AppendOptimistic("lost")
	s.MarkFailed(failedID)

	history := []Message{
		confirmed(1, 2, "old", time.Now().Add(-time.Minute)),
		confirmed(2, 2, "new", time.Now()),
	}
	s.Sync(history)

	msgs := s.Messages()
	require.Len(t, msgs, 4)

	byID := map[int64]Message{}
	var locals []Message
	for _, m := range msgs {
		if m.ID != 0 {
			byID[m.ID] = m
		} else {
			locals = append(locals, m)
		}
	}
	require.True(t, byID[1].Read, "locally-set read flag survives sync")
	require.Equal(t, "new", byID[2].Content)
	require.Len(t, locals, 2)
	for _, m := range locals {
		switch m.TempID {
		case pending:
			require.Equal(t, StatusPending, m.Status)
		case failedID:
			require.Equal(t, StatusFailed, m.Status)
		default:
			t.Fatalf("unexpected local entry %+v", m)
		}
	}
}

func TestSyncConfirmsPending(t *testing.T) {
	s := NewStore(selfID)
	s.AppendOptimistic("Hello")

	s.Sync([]Message{confirmed(42, selfID, "Hello", time.Now())})
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(42), msgs[0].ID)
	require.Equal(t, StatusConfirmed, msgs[0].Status)
}

func TestZeroIDNeverTouchesLocalEntries(t *testing.T) {
	s := NewStore(selfID)
	tempID := s.AppendOptimistic("draft")
	require.True(t, s.MarkFailed(tempID))

	// failed entries carry no server id; id 0 must not select them
	require.False(t, s.ApplyDelete(0))
	require.False(t, s.ApplyEdit(0, "clobbered"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "draft", msgs[0].Content)
	require.Equal(t, StatusFailed, msgs[0].Status)
}

func TestUnreadFromPartner(t *testing.T) {
	s := NewStore(selfID)
	_, _ = s.ReconcileInbound(confirmed(1, 2, "a", time.Now()))
	_, _ = s.ReconcileInbound(confirmed(2, selfID, "b", time.Now()))
	_, _ = s.ReconcileInbound(Message{ID: 3, Sender: 2, Content: "c", Timestamp: time.Now(), Read: true, Status: StatusConfirmed})

	require.Equal(t, []int64{1}, s.UnreadFromPartner())
}
