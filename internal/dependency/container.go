// Package dependency wires the botfleet services using go.uber.org/dig.
package dependency

import (
	"time"

	"go.uber.org/dig"

	"github.com/botfleet/botfleet/internal/config"
	"github.com/botfleet/botfleet/internal/credential"
	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/hub"
	"github.com/botfleet/botfleet/internal/notify"
	"github.com/botfleet/botfleet/internal/reconcile"
	"github.com/botfleet/botfleet/internal/store"
)

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	store     *store.Store
	creds     *credential.Store
	credCache *credential.Cache
	hub       *hub.Hub
	applier   *reconcile.Applier
	scheduler *reconcile.Scheduler
	gateway   *gateway.Server
}

func (c *Container) Store() *store.Store             { return c.store }
func (c *Container) Credentials() *credential.Store  { return c.creds }
func (c *Container) Hub() *hub.Hub                   { return c.hub }
func (c *Container) Applier() *reconcile.Applier     { return c.applier }
func (c *Container) Scheduler() *reconcile.Scheduler { return c.scheduler }
func (c *Container) Gateway() *gateway.Server        { return c.gateway }

// Close releases the container's long-lived resources.
func (c *Container) Close() error {
	c.credCache.Stop()
	return c.store.Close()
}

// New builds and wires all services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		newStore,
		newCursors,
		newCredentialStore,
		newCredentialCache,
		newNotifier,
		newClientFactory,
		newHubOptions,
		newHub,
		newApplier,
		newScheduler,
		newGateway,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		s *store.Store,
		creds *credential.Store,
		cache *credential.Cache,
		h *hub.Hub,
		applier *reconcile.Applier,
		scheduler *reconcile.Scheduler,
		gw *gateway.Server,
	) {
		result = &Container{
			store:     s,
			creds:     creds,
			credCache: cache,
			hub:       h,
			applier:   applier,
			scheduler: scheduler,
			gateway:   gw,
		}
	})
	return result, err
}

func newStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.ResolveDataDir())
}

func newCursors(s *store.Store) *store.Cursors {
	return store.NewCursors(s)
}

func newCredentialStore(s *store.Store) *credential.Store {
	return credential.NewStore(s)
}

func newCredentialCache(cs *credential.Store) *credential.Cache {
	return credential.NewCache(cs, credential.DefaultCacheTTL)
}

func newNotifier(cfg *config.Config) hub.Notifier {
	if cfg.Slack.BotToken == "" || cfg.Slack.Channel == "" {
		return notify.Noop{}
	}
	return notify.NewSlack(cfg.Slack.BotToken, cfg.Slack.Channel)
}

func newClientFactory(cfg *config.Config) hub.ClientFactory {
	maxPoll := time.Duration(cfg.Hub.PollTimeoutSeconds) * time.Second
	return func(token string) (hub.UpstreamClient, error) {
		return hub.NewBotClient(token, maxPoll)
	}
}

func newHubOptions(cfg *config.Config) hub.Options {
	return hub.Options{
		QueueCapacity:   cfg.Hub.QueueCapacity,
		BufferCapacity:  cfg.Hub.BufferCapacity,
		PollTimeout:     time.Duration(cfg.Hub.PollTimeoutSeconds) * time.Second,
		BootstrapRounds: cfg.Hub.BootstrapRounds,
		WatchInterval:   time.Duration(cfg.Hub.WatchIntervalSeconds) * time.Second,
		MinPollInterval: time.Duration(cfg.Hub.MinPollIntervalMs) * time.Millisecond,
		StormThreshold:  cfg.Hub.StormThreshold,
	}
}

func newHub(cache *credential.Cache, cursors *store.Cursors, factory hub.ClientFactory, notif hub.Notifier, opts hub.Options) *hub.Hub {
	return hub.New(cache, cursors, factory, notif, opts)
}

func newApplier(s *store.Store) *reconcile.Applier {
	return reconcile.NewApplier(s)
}

func newScheduler(creds *credential.Store, h *hub.Hub, applier *reconcile.Applier, cfg *config.Config) *reconcile.Scheduler {
	return reconcile.NewScheduler(creds, h, applier, cfg.Reconcile.Schedule)
}

func newGateway(cfg *config.Config, h *hub.Hub, applier *reconcile.Applier) *gateway.Server {
	return gateway.NewServer(cfg.Gateway.Listen, h, applier)
}
