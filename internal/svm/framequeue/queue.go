// Package framequeue is the bounded hand-off between the sensor feed and the
// render loop. It carries whole frames in FIFO order; a full queue blocks the
// producer instead of dropping or merging frames.
package framequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// DefaultCapacity is the queue depth used when none is configured.
const DefaultCapacity = 10

// DefaultPollInterval bounds how long Poll waits on an empty queue.
const DefaultPollInterval = 20 * time.Millisecond

// ErrClosed is returned by Put once the queue has been closed.
var ErrClosed = errors.New("frame queue closed")

// Stats is a point-in-time view of queue activity.
type Stats struct {
	Enqueued    uint64 `json:"enqueued"`
	Dequeued    uint64 `json:"dequeued"`
	BlockedPuts uint64 `json:"blocked_puts"`
	Depth       int    `json:"depth"`
	Capacity    int    `json:"capacity"`
}

// Queue is safe for one producer and one consumer running concurrently.
type Queue struct {
	frames       chan *l2frames.SensorFrame
	pollInterval time.Duration

	closed    chan struct{}
	closeOnce sync.Once

	enqueued    atomic.Uint64
	dequeued    atomic.Uint64
	blockedPuts atomic.Uint64
}

// New returns a queue holding up to capacity frames. Non-positive arguments
// select DefaultCapacity and DefaultPollInterval.
func New(capacity int, pollInterval time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Queue{
		frames:       make(chan *l2frames.SensorFrame, capacity),
		pollInterval: pollInterval,
		closed:       make(chan struct{}),
	}
}

// Put enqueues f, blocking while the queue is full until a slot frees, ctx is
// done, or the queue is closed.
func (q *Queue) Put(ctx context.Context, f *l2frames.SensorFrame) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.frames <- f:
		q.enqueued.Add(1)
		return nil
	default:
	}

	q.blockedPuts.Add(1)
	select {
	case q.frames <- f:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	}
}

// Poll returns the oldest frame. On an empty queue it waits at most the poll
// interval and then reports false. Frames still buffered after Close are
// drained normally.
func (q *Queue) Poll() (*l2frames.SensorFrame, bool) {
	select {
	case f := <-q.frames:
		q.dequeued.Add(1)
		return f, true
	default:
	}

	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	select {
	case f := <-q.frames:
		q.dequeued.Add(1)
		return f, true
	case <-timer.C:
		return nil, false
	case <-q.closed:
		return nil, false
	}
}

// Close wakes blocked producers and makes further Puts fail. Safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Len is the number of buffered frames.
func (q *Queue) Len() int { return len(q.frames) }

// Cap is the queue capacity.
func (q *Queue) Cap() int { return cap(q.frames) }

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:    q.enqueued.Load(),
		Dequeued:    q.dequeued.Load(),
		BlockedPuts: q.blockedPuts.Load(),
		Depth:       len(q.frames),
		Capacity:    cap(q.frames),
	}
}
