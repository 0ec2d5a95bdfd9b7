package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfleet/botfleet/internal/shared/tokens"
)

// CursorStore persists resume cursors keyed by bot token. Save is only called
// with values greater than any previously saved one.
type CursorStore interface {
	Load(token string) (cursor int64, ok bool, err error)
	Save(token string, cursor int64) error
}

// CredentialSource resolves a token record to its current secret. Implemented
// by the credential store; consulted at attach time and periodically by the
// poller's staleness watch.
type CredentialSource interface {
	GetActive(id string) (secret string, active bool, err error)
}

// Notifier receives ops-relevant poller transitions. Implementations must not
// block; the poll loop calls these inline.
type Notifier interface {
	PollerPaused(token, reason string)
	PollerResumed(token string)
	ConflictStorm(token string, streak int)
}

// Options tune per-poller behavior. Zero values fall back to defaults.
type Options struct {
	QueueCapacity   int           // per-subscription queue, default 256
	BufferCapacity  int           // membership buffer, default 2000
	PollTimeout     time.Duration // long-poll duration, default 25s
	BootstrapRounds int           // fast-forward cap per phase, default 10
	WatchInterval   time.Duration // credential re-check while paused, default 3s
	MinPollInterval time.Duration // floor between poll calls, default 200ms
	StormThreshold  int           // conflict streak that triggers an alert, default 5
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = 2000
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 25 * time.Second
	}
	if o.BootstrapRounds <= 0 {
		o.BootstrapRounds = 10
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = 3 * time.Second
	}
	if o.MinPollInterval <= 0 {
		o.MinPollInterval = 200 * time.Millisecond
	}
	if o.StormThreshold <= 0 {
		o.StormThreshold = 5
	}
	return o
}

const otherBackoff = 5 * time.Second

// Poller owns the single getUpdates loop for one bot token: the resume
// cursor, the membership buffer, and the set of live subscriptions.
//
// The loop goroutine is the only writer of cursor and buffer, except for
// drain-on-subscribe which runs under mu. mu is never held across an
// upstream call.
type Poller struct {
	recordID string
	token    string
	digest   string

	factory ClientFactory
	client  UpstreamClient
	cursors CursorStore
	creds   CredentialSource
	notif   Notifier
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	subs    map[string]*Subscription
	buf     *membershipBuffer
	cursor  int64
	stopped bool

	paused bool

	ready  chan struct{} // closed once bootstrap finished
	done   chan struct{} // closed when the loop has exited
	cancel context.CancelFunc

	// Conflict streak, touched only by the loop goroutine.
	streak int
}

func newPoller(recordID, token string, factory ClientFactory, cursors CursorStore, creds CredentialSource, notif Notifier, opts Options) *Poller {
	opts = opts.withDefaults()
	return &Poller{
		recordID: recordID,
		token:    token,
		digest:   tokens.Digest(token),
		factory:  factory,
		cursors:  cursors,
		creds:    creds,
		notif:    notif,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.MinPollInterval), 1),
		subs:     make(map[string]*Subscription),
		buf:      newMembershipBuffer(opts.BufferCapacity),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start launches the poll loop. Called once, by the hub, outside its lock.
func (p *Poller) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	go p.run(ctx)
}

// stop requests loop termination. The hub waits on Done afterwards.
func (p *Poller) stop() { p.cancel() }

// Done is closed once the loop has exited and all subscriptions are closed.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Subscribe creates a bounded subscription, registers it, and drains the
// membership buffer into it so events that arrived while nobody listened are
// delivered exactly once. Blocks until bootstrap has finished.
func (p *Poller) Subscribe(ctx context.Context) (*Subscription, error) {
	select {
	case <-p.ready:
	case <-p.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrShutdown
	}
	sub := newSubscription(p.opts.QueueCapacity, p.unsubscribe)
	p.subs[sub.id] = sub
	for _, ev := range p.buf.Drain() {
		sub.push(ev)
	}
	slog.Debug("poller: subscribed", "token", p.digest, "sub", sub.id, "subscribers", len(p.subs))
	return sub, nil
}

// unsubscribe removes one subscription and ends its stream. A second call
// with the same id is a no-op. Never waits on the poll loop.
func (p *Poller) unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[id]
	if !ok {
		return
	}
	delete(p.subs, id)
	sub.closeQueue()
	slog.Debug("poller: unsubscribed", "token", p.digest, "sub", id, "subscribers", len(p.subs))
}

// Stats is a point-in-time snapshot for status surfaces.
type Stats struct {
	Token       string `json:"token"`
	Cursor      int64  `json:"cursor"`
	Subscribers int    `json:"subscribers"`
	Buffered    int    `json:"buffered"`
	Evicted     int64  `json:"evicted"`
	Paused      bool   `json:"paused"`
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Token:       p.digest,
		Cursor:      p.cursor,
		Subscribers: len(p.subs),
		Buffered:    p.buf.Len(),
		Evicted:     p.buf.Evicted(),
		Paused:      p.paused,
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.closeAll()

	if !p.connect(ctx) {
		close(p.ready)
		return
	}
	p.bootstrap(ctx)
	close(p.ready)

	slog.Info("poller: running", "token", p.digest, "cursor", p.loadCursor())
	for ctx.Err() == nil {
		if !p.checkCredential(ctx) {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		events, err := p.client.Poll(ctx, p.loadCursor(), p.opts.PollTimeout, FullAllowList)
		if err != nil {
			p.handlePollError(ctx, err)
			continue
		}
		if p.streak > 0 {
			slog.Info("poller: conflict cleared", "token", p.digest, "streak", p.streak)
			p.streak = 0
		}
		if len(events) == 0 {
			continue
		}
		p.dispatch(events)
	}
}

// connect builds the upstream client, retrying until it succeeds or the
// poller is cancelled. Token validation happens here, off the attach path.
func (p *Poller) connect(ctx context.Context) bool {
	for ctx.Err() == nil {
		client, err := p.factory(p.token)
		if err == nil {
			p.client = client
			return true
		}
		slog.Error("poller: connect failed", "token", p.digest, "err", err)
		if !sleepCtx(ctx, otherBackoff) {
			return false
		}
	}
	return false
}

// bootstrap establishes the initial cursor. With a persisted cursor the
// poller resumes where it left off. Otherwise it fast-forwards: a capped
// number of membership-only polls fill the buffer, then a capped number of
// full polls advance the cursor to the current tip without replaying the
// backlog to anyone.
//
// Both phases are capped at BootstrapRounds; a backlog deeper than
// rounds × 100 updates can leave membership events between the cutoff and
// the tip unseen. Raising the cap trades slower first attach for less loss.
func (p *Poller) bootstrap(ctx context.Context) {
	cursor, ok, err := p.cursors.Load(p.token)
	if err != nil {
		slog.Warn("poller: cursor load failed, cold start", "token", p.digest, "err", err)
	}
	if ok {
		p.storeCursor(cursor)
		return
	}

	slog.Info("poller: no persisted cursor, fast-forwarding", "token", p.digest)
	cursor = 0
	for i := 0; i < p.opts.BootstrapRounds && ctx.Err() == nil; i++ {
		events, err := p.client.Poll(ctx, cursor, 0, []string{KindMyChatMember})
		if err != nil {
			p.handlePollError(ctx, err)
			continue
		}
		if len(events) == 0 {
			break
		}
		p.mu.Lock()
		for _, ev := range events {
			p.buf.Append(ev)
		}
		p.mu.Unlock()
		cursor = NextCursor(cursor, events)
	}
	for i := 0; i < p.opts.BootstrapRounds && ctx.Err() == nil; i++ {
		events, err := p.client.Poll(ctx, cursor, 0, FullAllowList)
		if err != nil {
			p.handlePollError(ctx, err)
			continue
		}
		if len(events) == 0 {
			break
		}
		cursor = NextCursor(cursor, events)
	}

	p.storeCursor(cursor)
	p.persist(cursor)
	p.mu.Lock()
	buffered := p.buf.Len()
	p.mu.Unlock()
	slog.Info("poller: fast-forward done", "token", p.digest, "cursor", cursor, "buffered", buffered)
}

// checkCredential verifies the owning record still exists, is active, and
// still carries this poller's token. Returns false (after sleeping) when the
// poller must stay paused. Lookup errors keep the current state: a flaky
// source of truth must not stall polling.
func (p *Poller) checkCredential(ctx context.Context) bool {
	secret, active, err := p.creds.GetActive(p.recordID)
	if err != nil {
		return true
	}
	reason := ""
	switch {
	case !active:
		reason = "credential deactivated"
	case secret != p.token:
		reason = "credential secret rotated"
	}
	if reason == "" {
		if p.setPaused(false) {
			slog.Info("poller: resumed", "token", p.digest)
			p.notif.PollerResumed(p.digest)
		}
		return true
	}
	if p.setPaused(true) {
		slog.Warn("poller: paused", "token", p.digest, "reason", reason)
		p.notif.PollerPaused(p.digest, reason)
	}
	sleepCtx(ctx, p.opts.WatchInterval)
	return false
}

func (p *Poller) handlePollError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case errors.Is(err, ErrConflict):
		p.streak++
		backoff := conflictBackoff(p.streak)
		slog.Warn("poller: upstream conflict", "token", p.digest, "streak", p.streak, "backoff", backoff)
		if p.streak == p.opts.StormThreshold {
			p.notif.ConflictStorm(p.digest, p.streak)
		}
		sleepCtx(ctx, backoff)
	default:
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			wait := clampRetryAfter(rl.RetryAfter)
			slog.Warn("poller: rate limited", "token", p.digest, "wait", wait)
			sleepCtx(ctx, wait)
			return
		}
		slog.Error("poller: poll failed", "token", p.digest, "err", err)
		sleepCtx(ctx, otherBackoff)
	}
}

// dispatch broadcasts a batch in order, buffers membership events, then
// advances and persists the cursor. The cursor only moves after every event
// of the batch has been broadcast and buffered.
func (p *Poller) dispatch(events []Event) {
	p.mu.Lock()
	for _, ev := range events {
		for _, sub := range p.subs {
			sub.push(ev)
		}
		if ev.IsMembership() {
			p.buf.Append(ev)
		}
	}
	next := NextCursor(p.cursor, events)
	advanced := next > p.cursor
	if advanced {
		p.cursor = next
	}
	p.mu.Unlock()

	if advanced {
		p.persist(next)
	}
}

func (p *Poller) persist(cursor int64) {
	if err := p.cursors.Save(p.token, cursor); err != nil {
		slog.Warn("poller: cursor save failed", "token", p.digest, "cursor", cursor, "err", err)
	}
}

// closeAll ends every subscription so consumers observe end-of-stream rather
// than a silent hang. Runs exactly once, when the loop exits.
func (p *Poller) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		sub.closeQueue()
	}
	slog.Info("poller: stopped", "token", p.digest, "cursor", p.cursor)
}

func (p *Poller) loadCursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Poller) storeCursor(v int64) {
	p.mu.Lock()
	p.cursor = v
	p.mu.Unlock()
}

// setPaused updates the pause flag and reports whether it changed.
func (p *Poller) setPaused(v bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.paused != v
	p.paused = v
	return changed
}

// conflictBackoff grows linearly with the streak, capped at one minute:
// 2s, 4s, 6s, … 60s.
func conflictBackoff(streak int) time.Duration {
	secs := 2 * streak
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// clampRetryAfter bounds a server-indicated wait to something sane.
func clampRetryAfter(d time.Duration) time.Duration {
	const (
		floor = time.Second
		ceil  = 5 * time.Minute
	)
	if d < floor {
		return floor
	}
	if d > ceil {
		return ceil
	}
	return d
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
