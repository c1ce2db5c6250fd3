// Package tracker captures page views and custom events and delivers them to
// an ingestion endpoint without ever blocking or failing the caller.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"ghosttrack/beacon/metrics"
	"ghosttrack/beacon/models"
)

var ErrQueueFull = errors.New("tracker dispatch queue is full")

// Deps are the collaborators of a tracker. Every field is optional.
type Deps struct {
	Logger     slog.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Clock      quartz.Clock
	// Preferred defaults to a BeaconTransport, Fallback to a FetchTransport.
	Preferred  Transport
	Fallback   Transport
}

// Tracker emits events for one page context and one session store. Trackers
// derived with ForPage share configuration, transports and the dispatch
// queue with their parent.
type Tracker struct {
	core  *core
	page  PageContext
	store SessionStore

	sessionMu   sync.Mutex
	// lastSession is used when the store fails so events stay correlated.
	lastSession string
}

type core struct {
	cfgMu sync.RWMutex
	cfg   Config

	logger    slog.Logger
	metrics   *metrics.Metrics
	clock     quartz.Clock
	preferred Transport
	fallback  Transport

	queueMu    sync.RWMutex
	closed     bool
	queue      chan dispatch
	workerDone chan struct{}

	// progressMu guards the dispatch counters. advanced is closed and
	// replaced whenever processed grows.
	progressMu sync.Mutex
	enqueued   uint64
	processed  uint64
	advanced   chan struct{}
}

type dispatch struct {
	env      models.EventEnvelope
	endpoint string
	debug    bool
}

// New starts a tracker. When cfg.AutoPageview is set and page is non-nil a
// page view is tracked immediately.
func New(cfg Config, page PageContext, store SessionStore, deps Deps) *Tracker {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Preferred == nil {
		deps.Preferred = NewBeaconTransport(deps.HTTPClient, DefaultMaxInFlight, cfg.Timeout)
	}
	if deps.Fallback == nil {
		deps.Fallback = &FetchTransport{Client: deps.HTTPClient, Timeout: cfg.Timeout}
	}

	c := &core{
		cfg:        cfg,
		logger:     deps.Logger.Named("tracker"),
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		preferred:  deps.Preferred,
		fallback:   deps.Fallback,
		queue:      make(chan dispatch, cfg.QueueSize),
		workerDone: make(chan struct{}),
		advanced:   make(chan struct{}),
	}
	go c.run()

	t := newTracker(c, page, store)
	if cfg.AutoPageview && page != nil {
		t.TrackPageview(context.Background())
	}
	return t
}

func newTracker(c *core, page PageContext, store SessionStore) *Tracker {
	if page == nil {
		page = StaticPage{}
	}
	if store == nil {
		store = NewMemorySessionStore()
	}
	return &Tracker{core: c, page: page, store: store}
}

// ForPage returns a tracker bound to another page and session store, one
// per tab or visitor. With AutoPageview the page view is tracked once here.
func (t *Tracker) ForPage(ctx context.Context, page PageContext, store SessionStore) *Tracker {
	child := newTracker(t.core, page, store)
	if t.Config().AutoPageview {
		child.TrackPageview(ctx)
	}
	return child
}

// Configure overrides the supplied keys of the shared configuration.
func (t *Tracker) Configure(opts ...Option) {
	t.core.cfgMu.Lock()
	t.core.cfg = t.core.cfg.With(opts...)
	cfg := t.core.cfg
	t.core.cfgMu.Unlock()

	if cfg.DebugLogging {
		t.core.logger.Info(context.Background(), "tracker configured",
			slog.F("endpoint", cfg.EndpointURL),
			slog.F("site_id", cfg.SiteID),
		)
	}
}

func (t *Tracker) Config() Config {
	t.core.cfgMu.RLock()
	defer t.core.cfgMu.RUnlock()
	return t.core.cfg
}

// TrackPageview records a page view with the page title and path attached
// when known. ctx only bounds the session lookup; delivery is detached.
func (t *Tracker) TrackPageview(ctx context.Context) {
	metadata := map[string]any{}
	if title := t.page.Title(); title != "" {
		metadata["page_title"] = title
	}
	if path := t.page.Path(); path != "" {
		metadata["page_path"] = path
	}
	t.track(ctx, models.EventTypePageview, metadata)
}

// TrackEvent records a custom event. An empty name is sent as a page view.
func (t *Tracker) TrackEvent(ctx context.Context, name string, metadata map[string]any) {
	if name == "" {
		name = models.EventTypePageview
	}
	copied := make(map[string]any, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	t.track(ctx, name, copied)
}

func (t *Tracker) track(ctx context.Context, eventType string, metadata map[string]any) {
	cfg := t.Config()
	env := models.EventEnvelope{
		SiteID:    cfg.SiteID,
		EventType: eventType,
		URL:       t.page.URL(),
		UserAgent: t.page.UserAgent(),
		SessionID: t.sessionID(ctx),
		Metadata:  metadata,
	}
	if ref := t.page.Referrer(); ref != "" {
		env.Referrer = &ref
	}

	if cfg.DebugLogging {
		t.core.logger.Info(ctx, "sending event",
			slog.F("event_type", env.EventType),
			slog.F("session_id", env.SessionID),
			slog.F("url", env.URL),
		)
	}

	err := t.core.enqueue(dispatch{env: env, endpoint: cfg.EndpointURL, debug: cfg.DebugLogging})
	if err != nil {
		t.core.metrics.EventDropped()
		if cfg.DebugLogging {
			t.core.logger.Warn(ctx, "event dropped", slog.F("event_type", eventType), slog.Error(err))
		}
	}
}

// sessionID returns the identifier held by the store, creating and storing
// one first if the store is empty.
func (t *Tracker) sessionID(ctx context.Context) string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()

	id, ok, err := t.store.Get(ctx, SessionKey)
	if err != nil {
		t.core.logger.Debug(ctx, "session store read failed", slog.Error(err))
	}
	// A store may return the value along with an error, e.g. when only
	// refreshing its expiry failed. The value still wins.
	if ok && id != "" {
		t.lastSession = id
		return id
	}
	if err != nil && t.lastSession != "" {
		return t.lastSession
	}

	id = NewSessionID(t.core.clock.Now())
	if err := t.store.Set(ctx, SessionKey, id); err != nil {
		t.core.logger.Debug(ctx, "session store write failed", slog.Error(err))
	}
	t.lastSession = id
	return id
}

// Flush waits until everything enqueued before the call has been handed to
// a transport and every queued beacon has completed, or ctx is done. It never
// holds the queue lock while waiting.
func (t *Tracker) Flush(ctx context.Context) error {
	c := t.core
	c.progressMu.Lock()
	target := c.enqueued
	c.progressMu.Unlock()

	for {
		c.progressMu.Lock()
		processed, advanced := c.processed, c.advanced
		c.progressMu.Unlock()
		if processed >= target {
			break
		}
		select {
		case <-advanced:
		case <-c.workerDone:
			return c.waitInFlight(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.waitInFlight(ctx)
}

// Close drains the queue and stops the tracker family. Events tracked after
// Close are dropped.
func (t *Tracker) Close(ctx context.Context) error {
	c := t.core
	c.queueMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.queueMu.Unlock()

	select {
	case <-c.workerDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	err := c.waitInFlight(ctx)
	if b, ok := c.preferred.(interface{ Close() }); ok {
		b.Close()
	}
	return err
}

func (c *core) enqueue(d dispatch) error {
	c.queueMu.RLock()
	defer c.queueMu.RUnlock()
	if c.closed {
		return errors.New("tracker is closed")
	}
	// The counter moves with the send so it follows queue order.
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	select {
	case c.queue <- d:
		c.enqueued++
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *core) run() {
	defer close(c.workerDone)
	for d := range c.queue {
		c.deliver(d)

		c.progressMu.Lock()
		c.processed++
		close(c.advanced)
		c.advanced = make(chan struct{})
		c.progressMu.Unlock()
	}
}

// deliver picks the preferred transport when it can take the payload and the
// fallback otherwise. Failures end here.
func (c *core) deliver(d dispatch) {
	ctx := context.Background()
	payload, err := json.Marshal(d.env)
	if err != nil {
		c.metrics.DeliveryFailed("encode")
		if d.debug {
			c.logger.Warn(ctx, "encode event", slog.F("event_type", d.env.EventType), slog.Error(err))
		}
		return
	}

	transport := c.fallback
	if c.preferred != nil && c.preferred.Available(payload) {
		transport = c.preferred
	}
	err = transport.Send(ctx, d.endpoint, payload)
	if errors.Is(err, ErrBeaconUnavailable) && transport != c.fallback {
		transport = c.fallback
		err = transport.Send(ctx, d.endpoint, payload)
	}
	if err != nil {
		c.metrics.DeliveryFailed(transport.Name())
		if d.debug {
			c.logger.Warn(ctx, "event delivery failed",
				slog.F("transport", transport.Name()),
				slog.F("event_type", d.env.EventType),
				slog.Error(err),
			)
		}
		return
	}
	c.metrics.EventSent(transport.Name())
}

func (c *core) waitInFlight(ctx context.Context) error {
	if w, ok := c.preferred.(interface{ Wait(context.Context) error }); ok {
		return w.Wait(ctx)
	}
	return nil
}
