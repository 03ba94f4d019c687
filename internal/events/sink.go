package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type sinkRecord struct {
	ts        time.Time
	level     string
	event     string
	msg       string
	fields    map[string]interface{}
	sessionID string
}

// AsyncSink queues records for a slow Sink and writes them from Run. Append
// never blocks: when the queue is full the record is dropped and counted.
type AsyncSink struct {
	inner Sink
	queue chan sinkRecord

	dropped atomic.Int64
	failed  atomic.Int64

	errOnce sync.Once
	// OnError is called once, with the first write failure.
	OnError func(error)
}

// NewAsyncSink wraps inner with a queue of size records.
func NewAsyncSink(inner Sink, size int) *AsyncSink {
	if size <= 0 {
		size = 1024
	}
	return &AsyncSink{inner: inner, queue: make(chan sinkRecord, size)}
}

func (a *AsyncSink) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	select {
	case a.queue <- sinkRecord{ts, level, event, msg, fields, sessionID}:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Run writes queued records until ctx is done, then flushes what is left.
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case r := <-a.queue:
			a.write(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-a.queue:
					a.write(r)
				default:
					return nil
				}
			}
		}
	}
}

func (a *AsyncSink) write(r sinkRecord) {
	if err := a.inner.Append(r.ts, r.level, r.event, r.msg, r.fields, r.sessionID); err != nil {
		a.failed.Add(1)
		a.errOnce.Do(func() {
			if a.OnError != nil {
				a.OnError(err)
			}
		})
	}
}

// Stats returns the number of dropped and failed records.
func (a *AsyncSink) Stats() (dropped, failed int64) {
	return a.dropped.Load(), a.failed.Load()
}
