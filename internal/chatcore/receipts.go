package chatcore

import (
	"sort"
	"sync"
	"time"
)

// ReadReceipts batches "mark read" notifications so rapid message arrivals
// produce one network call instead of one per message. Each message id is
// announced at most once per session: the acked set is never forgotten while
// the coordinator lives.
type ReadReceipts struct {
	mu      sync.Mutex
	delay   time.Duration
	emit    func(ids []int64)
	acked   map[int64]struct{}
	pending map[int64]struct{}
	timer   *time.Timer
	closed  bool
}

func NewReadReceipts(delay time.Duration, emit func(ids []int64)) *ReadReceipts {
	return &ReadReceipts{
		delay:   delay,
		emit:    emit,
		acked:   make(map[int64]struct{}),
		pending: make(map[int64]struct{}),
	}
}

// Observe records newly-read message ids and (re)arms the debounce timer.
// Ids already announced this session are ignored.
func (r *ReadReceipts) Observe(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	added := false
	for _, id := range ids {
		if _, ok := r.acked[id]; ok {
			continue
		}
		if _, ok := r.pending[id]; ok {
			continue
		}
		r.pending[id] = struct{}{}
		added = true
	}
	if !added {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.flush)
}

func (r *ReadReceipts) flush() {
	r.mu.Lock()
	if r.closed || len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
		r.acked[id] = struct{}{}
	}
	r.pending = make(map[int64]struct{})
	emit := r.emit
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	emit(ids)
}

// Acked reports whether an id has already been announced this session.
func (r *ReadReceipts) Acked(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.acked[id]
	return ok
}

// Close cancels any armed timer so nothing fires against a torn-down channel.
func (r *ReadReceipts) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
