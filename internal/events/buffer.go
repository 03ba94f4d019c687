package events

import "sync"

// RingBuffer keeps the last size events in arrival order.
type RingBuffer struct {
	mu   sync.RWMutex
	buf  []Event
	next int
	n    int
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{buf: make([]Event, size)}
}

func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	rb.buf[rb.next] = e
	rb.next = (rb.next + 1) % len(rb.buf)
	if rb.n < len(rb.buf) {
		rb.n++
	}
	rb.mu.Unlock()
}

// Snapshot returns every retained event, oldest first.
func (rb *RingBuffer) Snapshot() []Event {
	return rb.Last(0, nil)
}

// Last returns up to n of the newest events accepted by keep, oldest first.
// n <= 0 means no limit; a nil keep accepts everything.
func (rb *RingBuffer) Last(n int, keep func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	size := len(rb.buf)
	var out []Event
	for i := 1; i <= rb.n; i++ {
		e := rb.buf[(rb.next-i+size)%size]
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) == n {
			break
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	if out == nil {
		out = []Event{}
	}
	return out
}

func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	clear(rb.buf)
	rb.next = 0
	rb.n = 0
	rb.mu.Unlock()
}
