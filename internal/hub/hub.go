package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Hub maps bot tokens to pollers and guarantees at most one poller (and so at
// most one upstream getUpdates loop) per token, however many consumers attach.
type Hub struct {
	creds   CredentialSource
	cursors CursorStore
	factory ClientFactory
	notif   Notifier
	opts    Options

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	pollers  map[string]*Poller // keyed by token value, not record id
	shutdown bool
}

// New creates a Hub. Pollers are started lazily on first Attach and live
// until Shutdown.
func New(creds CredentialSource, cursors CursorStore, factory ClientFactory, notif Notifier, opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		creds:   creds,
		cursors: cursors,
		factory: factory,
		notif:   notif,
		opts:    opts.withDefaults(),
		baseCtx: ctx,
		cancel:  cancel,
		pollers: make(map[string]*Poller),
	}
}

// Attach resolves the credential record, finds or starts the poller for its
// token, and returns a fresh subscription. The registry lock covers only the
// lookup-or-create step; a slow bootstrap on one token never serializes
// attaches on other tokens.
func (h *Hub) Attach(ctx context.Context, credentialID string) (*Subscription, error) {
	secret, active, err := h.creds.GetActive(credentialID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential %s: %w", credentialID, err)
	}
	if secret == "" {
		return nil, ErrCredentialNotFound
	}
	if !active {
		return nil, ErrCredentialInactive
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return nil, ErrShutdown
	}
	p, ok := h.pollers[secret]
	if !ok {
		p = newPoller(credentialID, secret, h.factory, h.cursors, h.creds, h.notif, h.opts)
		h.pollers[secret] = p
		p.start(h.baseCtx)
		slog.Info("hub: poller created", "token", p.digest, "credential", credentialID)
	}
	h.mu.Unlock()

	return p.Subscribe(ctx)
}

// Stats snapshots every live poller, for the status command and gateway.
func (h *Hub) Stats() []Stats {
	h.mu.Lock()
	list := make([]*Poller, 0, len(h.pollers))
	for _, p := range h.pollers {
		list = append(list, p)
	}
	h.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, p := range list {
		out = append(out, p.Stats())
	}
	return out
}

// Shutdown cancels every poller and waits for their loops to exit, bounded by
// ctx. All open subscriptions observe end-of-stream. Idempotent.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return nil
	}
	h.shutdown = true
	list := make([]*Poller, 0, len(h.pollers))
	for _, p := range h.pollers {
		list = append(list, p)
	}
	h.pollers = make(map[string]*Poller)
	h.mu.Unlock()

	h.cancel()
	for _, p := range list {
		p.stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range list {
		p := p
		g.Go(func() error {
			select {
			case <-p.Done():
				return nil
			case <-gctx.Done():
				return fmt.Errorf("poller %s did not stop in time: %w", p.digest, gctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("hub: shut down", "pollers", len(list))
	return nil
}
