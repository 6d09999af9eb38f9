package handoff

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"drivethru/lane/internal/types"
)

var (
	ErrClosed        = errors.New("handoff queue closed")
	ErrUnknownPolicy = errors.New("unknown queue full policy")
)

// FullPolicy decides what Push does when a bounded queue is at capacity.
type FullPolicy string

const (
	// Block makes Push wait for room or for its context to end.
	Block FullPolicy = "block"
	// DropOldest evicts the head entry with a logged warning.
	DropOldest FullPolicy = "drop_oldest"
)

func ParsePolicy(s string) (FullPolicy, error) {
	switch FullPolicy(s) {
	case Block, DropOldest:
		return FullPolicy(s), nil
	case "":
		return Block, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Queue is a FIFO of finished outcomes. capacity 0 means unbounded.
type Queue struct {
	mu       sync.Mutex
	items    []types.OrderOutcome
	capacity int
	policy   FullPolicy
	closed   bool
	// changed is closed and replaced on every mutation to wake waiters.
	changed chan struct{}
}

func NewQueue(capacity int, policy FullPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	if policy == "" {
		policy = Block
	}
	return &Queue{capacity: capacity, policy: policy, changed: make(chan struct{})}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
	metricQueueDepth.Set(float64(len(q.items)))
}

// Push appends o. Under Block it waits while the queue is full and returns
// the context error if ctx ends first; the outcome is then not enqueued.
func (q *Queue) Push(ctx context.Context, o types.OrderOutcome) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, o)
			q.notifyLocked()
			q.mu.Unlock()
			metricPushed.Inc()
			return nil
		}
		if q.policy == DropOldest {
			old := q.items[0]
			q.items = append(q.items[1:], o)
			q.notifyLocked()
			q.mu.Unlock()
			metricPushed.Inc()
			metricDropped.Inc()
			log.Printf("[handoff] WARN queue full capacity=%d dropped oldest session=%s car=%d outcome=%s",
				q.capacity, old.SessionID, old.VehicleSeq, old.Outcome)
			return nil
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("handoff push session=%s: %w", o.SessionID, context.Cause(ctx))
		case <-wait:
		}
		q.mu.Lock()
	}
}

// Pop removes the head entry, waiting while the queue is empty. After Close
// it keeps returning remaining entries and then ErrClosed.
func (q *Queue) Pop(ctx context.Context) (types.OrderOutcome, error) {
	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			o := q.items[0]
			q.items[0] = types.OrderOutcome{}
			q.items = q.items[1:]
			q.notifyLocked()
			q.mu.Unlock()
			return o, nil
		}
		if q.closed {
			q.mu.Unlock()
			return types.OrderOutcome{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return types.OrderOutcome{}, ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}
