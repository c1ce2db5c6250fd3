package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// MaxBeaconPayload is the largest body a beacon will queue, matching the
// browser sendBeacon quota.
const MaxBeaconPayload = 64 << 10

const DefaultMaxInFlight = 32

var ErrBeaconUnavailable = errors.New("beacon transport unavailable")

// Transport delivers one encoded envelope.
type Transport interface {
	Name() string
	// Available reports whether the transport can take payload right now.
	Available(payload []byte) bool
	Send(ctx context.Context, endpoint string, payload []byte) error
}

// DeliveryError is returned when the endpoint answers with a non-2xx status.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned status %d", e.StatusCode)
}

// FetchTransport is the fallback: a plain JSON POST. The request is detached
// from the caller's cancellation so it outlives the page that issued it.
type FetchTransport struct {
	Client  *http.Client
	Timeout time.Duration
}

func (f *FetchTransport) Name() string { return "fetch" }

func (f *FetchTransport) Available([]byte) bool { return true }

func (f *FetchTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	ctx = context.WithoutCancel(ctx)
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	return post(ctx, f.client(), endpoint, payload)
}

func (f *FetchTransport) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// BeaconTransport is the preferred transport. Send only queues the request;
// the response is never observed.
type BeaconTransport struct {
	client  *http.Client
	timeout time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewBeaconTransport(client *http.Client, maxInFlight int, timeout time.Duration) *BeaconTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &BeaconTransport{
		client:  client,
		timeout: timeout,
		slots:   make(chan struct{}, maxInFlight),
	}
}

func (b *BeaconTransport) Name() string { return "beacon" }

func (b *BeaconTransport) Available(payload []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && len(payload) <= MaxBeaconPayload && len(b.slots) < cap(b.slots)
}

func (b *BeaconTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	if len(payload) > MaxBeaconPayload {
		return ErrBeaconUnavailable
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBeaconUnavailable
	}
	select {
	case b.slots <- struct{}{}:
	default:
		b.mu.RUnlock()
		return ErrBeaconUnavailable
	}
	b.wg.Add(1)
	b.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.slots }()
		sendCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		_ = post(sendCtx, b.client, endpoint, payload)
	}()
	return nil
}

// Wait blocks until every queued beacon has finished or ctx is done.
func (b *BeaconTransport) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting beacons. Beacons already queued still run.
func (b *BeaconTransport) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func post(ctx context.Context, client *http.Client, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}
