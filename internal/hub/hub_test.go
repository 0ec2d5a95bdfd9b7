package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ─── Test fakes ────────────────────────────────────────────────────────────

// fakeUpstream serves a scripted backlog of events, honoring cursor and
// allow-list semantics like the real Bot API. Scripted errors are returned
// before any events.
type fakeUpstream struct {
	mu      sync.Mutex
	backlog []Event
	errs    []error

	polls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeUpstream) Poll(ctx context.Context, cursor int64, timeout time.Duration, allow []string) ([]Event, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if cur <= peak || f.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}
	f.polls.Add(1)

	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return nil, err
	}
	allowed := make(map[string]bool, len(allow))
	for _, k := range allow {
		allowed[k] = true
	}
	var out []Event
	for _, ev := range f.backlog {
		if ev.Seq >= cursor && allowed[ev.Kind] {
			out = append(out, ev)
		}
	}
	f.mu.Unlock()

	if len(out) == 0 && timeout > 0 {
		// Simulate the long poll so an idle loop doesn't spin.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return out, nil
}

func (f *fakeUpstream) append(evs ...Event) {
	f.mu.Lock()
	f.backlog = append(f.backlog, evs...)
	f.mu.Unlock()
}

func (f *fakeUpstream) scriptErrors(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

// memCursors is an in-memory CursorStore recording every save.
type memCursors struct {
	mu    sync.Mutex
	m     map[string]int64
	saves []int64
}

func newMemCursors() *memCursors { return &memCursors{m: make(map[string]int64)} }

func (c *memCursors) Load(token string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[token]
	return v, ok, nil
}

func (c *memCursors) Save(token string, cursor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[token] = cursor
	c.saves = append(c.saves, cursor)
	return nil
}

func (c *memCursors) savedValues() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.saves...)
}

// memCreds is an in-memory CredentialSource.
type memCreds struct {
	mu sync.Mutex
	m  map[string]memCred
}

type memCred struct {
	secret string
	active bool
}

func (c *memCreds) GetActive(id string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[id]
	if !ok {
		return "", false, nil
	}
	return r.secret, r.active, nil
}

func (c *memCreds) set(id, secret string, active bool) {
	c.mu.Lock()
	c.m[id] = memCred{secret: secret, active: active}
	c.mu.Unlock()
}

// recordingNotifier counts notifications.
type recordingNotifier struct {
	paused  atomic.Int32
	resumed atomic.Int32
	storms  atomic.Int32
}

func (n *recordingNotifier) PollerPaused(string, string) { n.paused.Add(1) }
func (n *recordingNotifier) PollerResumed(string)        { n.resumed.Add(1) }
func (n *recordingNotifier) ConflictStorm(string, int)   { n.storms.Add(1) }

func membershipEvent(seq int64, chatID int64, status string) Event {
	return NewEvent(tgbotapi.Update{
		UpdateID: int(seq),
		MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat: tgbotapi.Chat{ID: chatID, Type: "group", Title: "test chat"},
			Date: int(time.Now().Unix()),
			NewChatMember: tgbotapi.ChatMember{
				Status: status,
			},
		},
	})
}

func messageEvent(seq int64) Event {
	return NewEvent(tgbotapi.Update{
		UpdateID: int(seq),
		Message:  &tgbotapi.Message{MessageID: int(seq), Text: "hi"},
	})
}

// testEnv bundles the fakes behind a hub with fast test timings.
type testEnv struct {
	upstream *fakeUpstream
	cursors  *memCursors
	creds    *memCreds
	notif    *recordingNotifier
	hub      *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		upstream: &fakeUpstream{},
		cursors:  newMemCursors(),
		creds:    &memCreds{m: map[string]memCred{"bot-1": {secret: "tok-1", active: true}}},
		notif:    &recordingNotifier{},
	}
	factory := func(string) (UpstreamClient, error) { return env.upstream, nil }
	env.hub = New(env.creds, env.cursors, factory, env.notif, Options{
		QueueCapacity:   8,
		BufferCapacity:  16,
		PollTimeout:     20 * time.Millisecond,
		BootstrapRounds: 5,
		WatchInterval:   10 * time.Millisecond,
		MinPollInterval: time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.hub.Shutdown(ctx)
	})
	return env
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ─── Attach ────────────────────────────────────────────────────────────────

func TestAttach_UnknownCredential(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.hub.Attach(context.Background(), "nope")
	if err != ErrCredentialNotFound {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestAttach_InactiveCredential(t *testing.T) {
	env := newTestEnv(t)
	env.creds.set("bot-1", "tok-1", false)
	_, err := env.hub.Attach(context.Background(), "bot-1")
	if err != ErrCredentialInactive {
		t.Fatalf("expected ErrCredentialInactive, got %v", err)
	}
}

func TestAttach_ConcurrentSinglePoller(t *testing.T) {
	env := newTestEnv(t)

	const n = 16
	var wg sync.WaitGroup
	subs := make([]*Subscription, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i], errs[i] = env.hub.Attach(context.Background(), "bot-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("attach %d failed: %v", i, errs[i])
		}
		defer subs[i].Close()
	}
	if got := len(env.hub.Stats()); got != 1 {
		t.Fatalf("expected exactly 1 poller, got %d", got)
	}

	// Let the loop poll for a while; there must never be concurrent
	// upstream calls on one token.
	waitFor(t, func() bool { return env.upstream.polls.Load() > 5 }, "poller never polled")
	if max := env.upstream.maxInflight.Load(); max != 1 {
		t.Errorf("observed %d concurrent upstream polls, want 1", max)
	}
}

func TestAttach_SameTokenTwoRecords(t *testing.T) {
	env := newTestEnv(t)
	// Two ids resolving to one secret must share a poller.
	sub1, err := env.hub.Attach(context.Background(), "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub1.Close()

	env.creds.set("bot-2", "tok-1", true)
	sub2, err := env.hub.Attach(context.Background(), "bot-2")
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Close()

	if got := len(env.hub.Stats()); got != 1 {
		t.Fatalf("expected 1 poller for shared secret, got %d", got)
	}
}

// ─── Fan-out ───────────────────────────────────────────────────────────────

func TestFanOut_AllSubscribersSeeEventsInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub1, err := env.hub.Attach(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub1.Close()
	sub2, err := env.hub.Attach(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Close()

	env.upstream.append(messageEvent(10), messageEvent(11), messageEvent(12))

	for _, sub := range []*Subscription{sub1, sub2} {
		for want := int64(10); want <= 12; want++ {
			rctx, cancel := context.WithTimeout(ctx, time.Second)
			ev, err := sub.Read(rctx)
			cancel()
			if err != nil {
				t.Fatalf("read seq %d: %v", want, err)
			}
			if ev.Seq != want {
				t.Fatalf("out of order: got seq %d, want %d", ev.Seq, want)
			}
		}
	}
}

func TestDetach_DoesNotAffectOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub1, _ := env.hub.Attach(ctx, "bot-1")
	sub2, _ := env.hub.Attach(ctx, "bot-1")
	defer sub2.Close()

	sub1.Close()
	sub1.Close() // double close is a no-op

	env.upstream.append(messageEvent(20))
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := sub2.Read(rctx)
	if err != nil {
		t.Fatalf("surviving subscription read: %v", err)
	}
	if ev.Seq != 20 {
		t.Fatalf("got seq %d, want 20", ev.Seq)
	}

	if _, err := sub1.Read(context.Background()); err != ErrClosed {
		t.Fatalf("closed subscription read: got %v, want ErrClosed", err)
	}
}

// ─── Shutdown ──────────────────────────────────────────────────────────────

func TestShutdown_ClosesSubscriptionsWithinBoundedTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.hub.Attach(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	// Put the poller into a long rate-limit backoff, then shut down.
	before := env.upstream.polls.Load()
	env.upstream.scriptErrors(&RateLimitedError{RetryAfter: 5 * time.Minute})
	waitFor(t, func() bool { return env.upstream.polls.Load() > before }, "poller never consumed the scripted error")

	start := time.Now()
	shutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := env.hub.Shutdown(shutCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %s, want bounded", elapsed)
	}

	// Drain anything queued; the stream must then end, not hang.
	for {
		rctx, rcancel := context.WithTimeout(ctx, time.Second)
		_, err := sub.Read(rctx)
		rcancel()
		if err == ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("expected ErrClosed after shutdown, got %v", err)
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.hub.Attach(ctx, "bot-1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := env.hub.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown call %d: %v", i, err)
		}
	}
}

func TestAttach_AfterShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.hub.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.hub.Attach(ctx, "bot-1"); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
