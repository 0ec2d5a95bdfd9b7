package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/botfleet/botfleet/internal/credential"
	"github.com/botfleet/botfleet/internal/hub"
)

// Attacher is the slice of the hub the scheduler needs.
type Attacher interface {
	Attach(ctx context.Context, credentialID string) (*hub.Subscription, error)
}

// DefaultSchedule runs a full sweep every six hours.
const DefaultSchedule = "@every 6h"

// drainWindow is how long RunNow waits for the drained buffer plus any
// updates already in flight. Buffered events arrive immediately; the window
// only pads for scheduling.
const drainWindow = 2 * time.Second

// Scheduler periodically reconciles every active credential: attach, drain
// immediately available membership events, apply, detach.
type Scheduler struct {
	creds   *credential.Store
	hub     Attacher
	applier *Applier
	spec    string
	cron    *robfigcron.Cron
}

func NewScheduler(creds *credential.Store, h Attacher, applier *Applier, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	return &Scheduler{
		creds:   creds,
		hub:     h,
		applier: applier,
		spec:    spec,
		cron:    robfigcron.New(),
	}
}

// Start arms the schedule and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.sweep(ctx) })
	if err != nil {
		return fmt.Errorf("bad reconcile schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	slog.Info("reconcile: scheduler started", "schedule", s.spec)

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	slog.Info("reconcile: scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) sweep(ctx context.Context) {
	records, err := s.creds.List()
	if err != nil {
		slog.Error("reconcile: list credentials failed", "err", err)
		return
	}
	for _, r := range records {
		if !r.Active {
			continue
		}
		if _, err := s.RunNow(ctx, r.ID); err != nil {
			slog.Warn("reconcile: sweep failed for credential", "credential", r.ID, "err", err)
		}
	}
}

// RunNow reconciles a single credential immediately, backing the console's
// "reconcile now" button. It attaches a throwaway subscription (receiving the
// drained membership buffer), collects membership events within a short
// window, and applies them.
func (s *Scheduler) RunNow(ctx context.Context, credentialID string) (int, error) {
	sub, err := s.hub.Attach(ctx, credentialID)
	if err != nil {
		return 0, err
	}
	defer sub.Close()

	window, cancel := context.WithTimeout(ctx, drainWindow)
	defer cancel()

	var batch []hub.Event
	for {
		ev, err := sub.Read(window)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, hub.ErrClosed) {
				break
			}
			return 0, err
		}
		if ev.IsMembership() {
			batch = append(batch, ev)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	return s.applier.Apply(ctx, credentialID, batch)
}
