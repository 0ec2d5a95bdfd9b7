package hub

import (
	"context"
	"testing"
	"time"
)

// ─── Overflow ──────────────────────────────────────────────────────────────

func TestSubscription_OverflowDropsOldest(t *testing.T) {
	sub := newSubscription(4, func(string) {})
	for seq := int64(1); seq <= 10; seq++ {
		sub.push(messageEvent(seq))
	}

	// Capacity respected, newest retained.
	if n := len(sub.queue); n != 4 {
		t.Fatalf("queue holds %d events, capacity 4", n)
	}
	if d := sub.Dropped(); d != 6 {
		t.Fatalf("dropped = %d, want 6", d)
	}
	for want := int64(7); want <= 10; want++ {
		ev, err := sub.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ev.Seq != want {
			t.Fatalf("got seq %d, want %d (oldest dropped first)", ev.Seq, want)
		}
	}
}

// ─── Read ──────────────────────────────────────────────────────────────────

func TestSubscription_ReadCancellable(t *testing.T) {
	sub := newSubscription(4, func(string) {})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Read(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestSubscription_ReadDrainsAfterClose(t *testing.T) {
	sub := newSubscription(4, func(string) {})
	sub.push(messageEvent(1))
	sub.push(messageEvent(2))
	sub.closeQueue()

	for want := int64(1); want <= 2; want++ {
		ev, err := sub.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ev.Seq != want {
			t.Fatalf("got seq %d, want %d", ev.Seq, want)
		}
	}
	if _, err := sub.Read(context.Background()); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

// ─── Close ─────────────────────────────────────────────────────────────────

func TestSubscription_CloseIdempotent(t *testing.T) {
	detached := 0
	sub := newSubscription(4, func(string) { detached++ })
	sub.Close()
	sub.Close()
	sub.Close()
	if detached != 1 {
		t.Fatalf("detach called %d times, want 1", detached)
	}
}

func TestSubscription_UniqueIDs(t *testing.T) {
	a := newSubscription(1, func(string) {})
	b := newSubscription(1, func(string) {})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("handles not unique: %q vs %q", a.ID(), b.ID())
	}
}
