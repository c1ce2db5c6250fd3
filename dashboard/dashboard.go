// Package dashboard owns the dashboard's view-state: it polls the analytics
// API on a fixed interval and replaces the whole view on every successful
// cycle.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"ghosttrack/beacon/aggregate"
	"ghosttrack/beacon/metrics"
	"ghosttrack/beacon/models"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultEventsLimit = 20
)

// ErrStopped is returned by a refresh whose results arrived after Stop.
var ErrStopped = errors.New("dashboard stopped")

// Fetcher is the subset of the analytics API the dashboard polls.
type Fetcher interface {
	Stats(ctx context.Context) (models.Stats, error)
	RecentEvents(ctx context.Context, limit int) ([]models.Event, error)
	Alerts(ctx context.Context) ([]models.Alert, error)
	TrafficSources(ctx context.Context) ([]models.TrafficSource, error)
}

// View is one coherent snapshot. Its slices are shared between readers and
// must not be modified. Traffic is refreshed by its own poll and may come
// from a different cycle than the rest. Loaded is false until the first
// successful refresh.
type View struct {
	Stats            models.Stats        `json:"stats"`
	Events           []models.Event      `json:"events"`
	Alerts           []models.Alert      `json:"alerts"`
	Daily            aggregate.Series    `json:"daily"`
	Hourly           aggregate.Series    `json:"hourly"`
	Traffic          aggregate.Breakdown `json:"traffic"`
	UpdatedAt        time.Time           `json:"updated_at"`
	TrafficUpdatedAt time.Time           `json:"traffic_updated_at"`
	Loaded           bool                `json:"loaded"`
}

type Options struct {
	Interval    time.Duration
	EventsLimit int
	// Location decides calendar days and hours for the series. UTC when nil.
	Location    *time.Location
	Clock       quartz.Clock
	Logger      slog.Logger
	Metrics     *metrics.Metrics
}

type Dashboard struct {
	fetcher     Fetcher
	interval    time.Duration
	eventsLimit int
	loc         *time.Location
	clock       quartz.Clock
	logger      slog.Logger
	metrics     *metrics.Metrics

	view       atomic.Pointer[View]
	// generation changes on Stop; refreshes started before it are discarded.
	generation atomic.Uint64
	viewSeq    atomic.Uint64
	trafficSeq atomic.Uint64

	commitMu       sync.Mutex
	lastViewSeq    uint64
	lastTrafficSeq uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
}

func New(fetcher Fetcher, opts Options) *Dashboard {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EventsLimit <= 0 {
		opts.EventsLimit = DefaultEventsLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	d := &Dashboard{
		fetcher:     fetcher,
		interval:    opts.Interval,
		eventsLimit: opts.EventsLimit,
		loc:         opts.Location,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("dashboard"),
		metrics:     opts.Metrics,
	}

	now := d.clock.Now().In(d.loc)
	d.view.Store(&View{
		Events:  []models.Event{},
		Alerts:  []models.Alert{},
		Daily:   aggregate.BuildDailySeries(nil, now),
		Hourly:  aggregate.BuildHourlySeries(nil, now),
		Traffic: aggregate.NormalizeTrafficSources(aggregate.DefaultTrafficSources()),
	})
	return d
}

// View returns the current snapshot.
func (d *Dashboard) View() View {
	return *d.view.Load()
}

// Refresh fetches stats, recent events and alerts concurrently and commits
// them as one snapshot. If any fetch fails nothing is committed and the
// previous view stays in place.
func (d *Dashboard) Refresh(ctx context.Context) error {
	gen := d.generation.Load()
	seq := d.viewSeq.Add(1)

	var (
		stats  models.Stats
		events []models.Event
		alerts []models.Alert
	)
	var eg errgroup.Group
	eg.Go(func() error {
		s, err := d.fetcher.Stats(ctx)
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}
		stats = s
		return nil
	})
	eg.Go(func() error {
		evs, err := d.fetcher.RecentEvents(ctx, d.eventsLimit)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}
		events = evs
		return nil
	})
	eg.Go(func() error {
		as, err := d.fetcher.Alerts(ctx)
		if err != nil {
			return fmt.Errorf("fetch alerts: %w", err)
		}
		alerts = as
		return nil
	})
	err := eg.Wait()
	if err != nil && d.generation.Load() != gen {
		return ErrStopped
	}
	d.metrics.Refresh("view", err)
	if err != nil {
		d.logger.Error(ctx, "dashboard refresh failed", slog.Error(err))
		return err
	}

	if events == nil {
		events = []models.Event{}
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	now := d.clock.Now().In(d.loc)
	daily := aggregate.BuildDailySeries(events, now)
	hourly := aggregate.BuildHourlySeries(events, now)
	if daily.Dropped > 0 {
		d.metrics.InvalidTimestamps(daily.Dropped)
		d.logger.Debug(ctx, "skipped events with invalid timestamps", slog.F("count", daily.Dropped))
	}

	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	if d.generation.Load() != gen {
		return ErrStopped
	}
	if seq < d.lastViewSeq {
		// A later refresh already committed.
		return nil
	}
	d.lastViewSeq = seq

	prev := d.view.Load()
	d.view.Store(&View{
		Stats:            stats,
		Events:           events,
		Alerts:           alerts,
		Daily:            daily,
		Hourly:           hourly,
		Traffic:          prev.Traffic,
		UpdatedAt:        now,
		TrafficUpdatedAt: prev.TrafficUpdatedAt,
		Loaded:           true,
	})
	return nil
}

// RefreshTrafficSources polls the traffic breakdown on its own. A failure
// keeps the previous breakdown.
func (d *Dashboard) RefreshTrafficSources(ctx context.Context) error {
	gen := d.generation.Load()
	seq := d.trafficSeq.Add(1)

	sources, err := d.fetcher.TrafficSources(ctx)
	if err != nil && d.generation.Load() != gen {
		return ErrStopped
	}
	d.metrics.Refresh("traffic", err)
	if err != nil {
		err = fmt.Errorf("fetch traffic sources: %w", err)
		d.logger.Error(ctx, "traffic sources refresh failed", slog.Error(err))
		return err
	}
	breakdown := aggregate.NormalizeTrafficSources(sources)

	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	if d.generation.Load() != gen {
		return ErrStopped
	}
	if seq < d.lastTrafficSeq {
		return nil
	}
	d.lastTrafficSeq = seq

	next := *d.view.Load()
	next.Traffic = breakdown
	next.TrafficUpdatedAt = d.clock.Now().In(d.loc)
	d.view.Store(&next)
	return nil
}

// Start refreshes immediately and then on every interval until Stop or ctx
// is done. Each cycle is bounded by the interval so ticks are never skipped.
func (d *Dashboard) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.cycle(ctx)
	d.clock.TickerFunc(ctx, d.interval, func() error {
		d.cycle(ctx)
		return nil
	}, "dashboard", "poll")
}

// Stop cancels the polling loop and its in-flight fetches. Results that
// arrive anyway are dropped.
func (d *Dashboard) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.generation.Add(1)
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Dashboard) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.interval)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = d.Refresh(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = d.RefreshTrafficSources(ctx)
	}()
	wg.Wait()
}
