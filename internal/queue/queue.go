// Package queue implements the bounded per-source queue sitting
// between the Listener Multiplexer and the Processor Pool: a
// multi-producer/multi-consumer FIFO with non-blocking enqueue (the
// backpressure mechanism — listeners never block) and
// blocking-with-deadline dequeue for batch formation.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/sigil-systems/ingestord/internal/model"
)

// Queue is a bounded FIFO of CanonicalLog records for one source.
// Capacity is fixed at construction; Enqueue drops and counts instead
// of blocking once the queue is full.
type Queue struct {
	ch       chan model.CanonicalLog
	dropped  atomic.Uint64
	accepted atomic.Uint64
}

// New builds a Queue with the given bounded capacity. Callers should
// use model.Source.QueueCapacity() (4x queue_limit) per the enqueue
// policy.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.CanonicalLog, capacity)}
}

// Enqueue attempts to add record without blocking. It returns false
// and increments the drop counter if the queue is full; listeners
// never stall on a slow or backed-up source.
func (q *Queue) Enqueue(record model.CanonicalLog) bool {
	select {
	case q.ch <- record:
		q.accepted.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Accepted reports the cumulative count of records successfully
// enqueued (events_in).
func (q *Queue) Accepted() uint64 {
	return q.accepted.Load()
}

// C exposes the underlying channel for batch-formation selects in the
// Processor Pool worker loop.
func (q *Queue) C() <-chan model.CanonicalLog {
	return q.ch
}

// Dequeue blocks until a record is available or ctx is done. The bool
// result is false only when ctx ended first.
func (q *Queue) Dequeue(ctx context.Context) (model.CanonicalLog, bool) {
	select {
	case record := <-q.ch:
		return record, true
	case <-ctx.Done():
		return model.CanonicalLog{}, false
	}
}

// Depth reports the number of records currently queued.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Capacity reports the queue's fixed bound.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}

// Dropped reports the cumulative count of records dropped due to a
// full queue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Drain removes and returns every record currently queued without
// blocking, used by the Processor Pool supervisor during shutdown to
// count records lost after the drain deadline.
func (q *Queue) Drain() []model.CanonicalLog {
	var out []model.CanonicalLog
	for {
		select {
		case record := <-q.ch:
			out = append(out, record)
		default:
			return out
		}
	}
}
