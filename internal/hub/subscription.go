package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is one consumer's bounded view of a poller's event stream.
//
// The queue never blocks the poll loop: when full, the oldest queued event is
// dropped to make room for the newest. Close is idempotent and safe to call
// from a defer path; after close (or poller stop) Read drains whatever is
// still queued and then returns ErrClosed.
type Subscription struct {
	id      string
	queue   chan Event
	dropped atomic.Int64

	closeOnce sync.Once
	detach    func(id string)
}

func newSubscription(capacity int, detach func(id string)) *Subscription {
	if capacity <= 0 {
		capacity = 256
	}
	return &Subscription{
		id:     uuid.NewString(),
		queue:  make(chan Event, capacity),
		detach: detach,
	}
}

// ID returns the unique subscription handle.
func (s *Subscription) ID() string { return s.id }

// Read blocks until an event is available, the subscription reaches
// end-of-stream (ErrClosed), or ctx is done.
func (s *Subscription) Read(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.queue:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Events exposes the queue for select-based consumers. The channel is closed
// at end-of-stream.
func (s *Subscription) Events() <-chan Event { return s.queue }

// Close detaches from the poller and closes the queue. Idempotent; other
// subscriptions and the poll loop are unaffected.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { s.detach(s.id) })
}

// Dropped returns how many events overflow has discarded from this queue.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// push enqueues ev, dropping the oldest queued event on overflow. Called only
// with the owning poller's mutex held, so there is a single producer and the
// drain-one-slot-then-send sequence cannot race another push.
func (s *Subscription) push(ev Event) {
	for {
		select {
		case s.queue <- ev:
			return
		default:
		}
		select {
		case <-s.queue:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("subscription: queue overflow, dropping oldest", "id", s.id, "dropped", n)
			}
		default:
		}
	}
}

// closeQueue ends the stream. Called by the poller under its mutex after the
// subscription has been removed from the fan-out set.
func (s *Subscription) closeQueue() {
	close(s.queue)
}
