package hub

// membershipBuffer is a bounded FIFO of my_chat_member events that arrived
// while no consumer was attached. Oldest entries are evicted on overflow.
//
// Not safe for concurrent use on its own; the owning poller's mutex guards
// every access (loop appends and drain-on-subscribe).
type membershipBuffer struct {
	events  []Event
	cap     int
	evicted int64
}

func newMembershipBuffer(capacity int) *membershipBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &membershipBuffer{cap: capacity}
}

// Append adds ev, evicting the oldest entry when full.
func (b *membershipBuffer) Append(ev Event) {
	if len(b.events) >= b.cap {
		drop := len(b.events) - b.cap + 1
		b.events = append(b.events[:0], b.events[drop:]...)
		b.evicted += int64(drop)
	}
	b.events = append(b.events, ev)
}

// Drain returns all buffered events in arrival order and empties the buffer.
func (b *membershipBuffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

func (b *membershipBuffer) Len() int { return len(b.events) }

// Evicted returns how many events overflow has discarded since creation.
func (b *membershipBuffer) Evicted() int64 { return b.evicted }
