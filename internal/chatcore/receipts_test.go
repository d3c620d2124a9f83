package chatcore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type batchCollector struct {
	mu      sync.Mutex
	batches [][]int64
}

func (b *batchCollector) emit(ids []int64) {
	b.mu.Lock()
	b.batches = append(b.batches, ids)
	b.mu.Unlock()
}

func (b *batchCollector) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *batchCollector) last() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil
	}
	return b.batches[len(b.batches)-1]
}

func TestRapidArrivalsBatchIntoOneCall(t *testing.T) {
	var c batchCollector
	r := NewReadReceipts(30*time.Millisecond, c.emit)
	defer r.Close()

	// three messages land within the debounce window
	r.Observe([]int64{1})
	r.Observe([]int64{2})
	r.Observe([]int64{3})

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{1, 2, 3}, c.last())
}

func TestEachIDAnnouncedAtMostOnce(t *testing.T) {
	var c batchCollector
	r := NewReadReceipts(10*time.Millisecond, c.emit)
	defer r.Close()

	r.Observe([]int64{1, 2})
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, r.Acked(1))

	// re-reading already announced ids must stay silent
	r.Observe([]int64{1, 2})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, c.count())

	// a genuinely new id goes out alone
	r.Observe([]int64{1, 3})
	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{3}, c.last())
}

func TestCloseCancelsPendingBatch(t *testing.T) {
	var c batchCollector
	r := NewReadReceipts(20*time.Millisecond, c.emit)

	r.Observe([]int64{1})
	r.Close()

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, c.count(), "no batch may fire after teardown")

	r.Observe([]int64{2})
	time.Sleep(60 * time.Millisecond)
	require.Zero(t, c.count())
}
