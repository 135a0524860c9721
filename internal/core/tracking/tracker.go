// Package tracking keeps a consumer's view of one order's live position in
// step with the backing store's change feed.
//
// A Tracker fetches the order snapshot, seeds a LocationStore with it, and
// attaches a Subscriber whose events flow through the same validation path.
// Every accepted change is drawn by the consumer's MapRenderer. The returned
// Handle owns all of it; Stop releases the channel synchronously.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/metrics"
	"github.com/wear60/tracking-service/internal/render"
)

// errorBuffer is how many channel failures a Handle holds for a slow consumer.
const errorBuffer = 4

// Tracker creates tracking handles. It holds no per-order state.
type Tracker struct {
	reader        ports.LocationReader
	feed          ports.ChangeFeed
	log           zerolog.Logger
	detachTimeout time.Duration
}

// NewTracker returns a Tracker reading snapshots from reader and live
// changes from feed.
func NewTracker(reader ports.LocationReader, feed ports.ChangeFeed, log zerolog.Logger) *Tracker {
	return &Tracker{reader: reader, feed: feed, log: log, detachTimeout: defaultDetachTimeout}
}

// WithDetachTimeout returns a copy of t whose subscribers wait at most d for
// the transport on Detach.
func (t *Tracker) WithDetachTimeout(d time.Duration) *Tracker {
	cp := *t
	if d > 0 {
		cp.detachTimeout = d
	}
	return &cp
}

// Observe starts tracking orderID and draws every state change on renderer.
//
// domain.ErrOrderNotFound is returned as-is and no channel is opened. Any
// other read or snapshot validation failure wraps domain.ErrSnapshotUnavailable.
// A channel that cannot be opened does not fail Observe: the handle reports
// domain.TrackingUnavailable and publishes the error on Errors.
//
// The handle stops by itself when ctx is cancelled.
func (t *Tracker) Observe(ctx context.Context, orderID string, renderer ports.MapRenderer) (*Handle, error) {
	order, err := t.reader.FindByID(ctx, orderID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The consumer went away while the read was in flight.
		return nil, ctxErr
	}
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSnapshotUnavailable, err)
	}

	h := &Handle{
		id:       uuid.New(),
		orderID:  orderID,
		renderer: renderer,
		status:   domain.TrackingLive,
		errs:     make(chan error, errorBuffer),
	}
	h.log = t.log.With().Str("order_id", orderID).Str("handle_id", h.id.String()).Logger()
	h.ctx, h.cancel = context.WithCancel(context.WithoutCancel(ctx))
	h.store = NewLocationStore(orderID, h.log)
	h.removeRenderer = h.store.Observe(h.draw)
	h.sub = NewSubscriber(t.feed, h.log,
		WithDetachTimeout(t.detachTimeout),
		WithErrorHandler(h.channelFailed),
	)

	snap := order.Snapshot()
	if snap.Latitude == nil && snap.Longitude == nil {
		// No position reported yet: show the neutral view and wait for the
		// first complete change event.
		h.drawDefault()
	} else if err := h.store.Initialize(snap); err != nil {
		h.removeRenderer()
		h.cancel()
		return nil, fmt.Errorf("%w: %w", domain.ErrSnapshotUnavailable, err)
	}

	if err := h.sub.Attach(ctx, orderID, func(ev domain.ChangeEvent) { h.store.ApplyUpdate(ev) }); err != nil {
		h.channelFailed(err)
	}

	stopWatch := context.AfterFunc(ctx, h.Stop)
	h.mu.Lock()
	h.stopWatch = stopWatch
	h.mu.Unlock()

	h.log.Info().Str("status", string(h.Status())).Msg("tracking started")
	return h, nil
}

// Handle is a live view of one order. It is safe for concurrent use.
type Handle struct {
	id       uuid.UUID
	orderID  string
	store    *LocationStore
	sub      *Subscriber
	renderer ports.MapRenderer
	log      zerolog.Logger

	ctx            context.Context
	cancel         context.CancelFunc
	removeRenderer func()
	stopOnce       sync.Once

	mu        sync.Mutex
	status    domain.TrackingStatus
	lastErr   error
	mounted   bool
	stopped   bool
	stopWatch func() bool
	errs      chan error
}

// ID identifies the handle in logs.
func (h *Handle) ID() uuid.UUID { return h.id }

// OrderID is the order being tracked.
func (h *Handle) OrderID() string { return h.orderID }

// Current returns the last known location, and false if none has been
// received yet.
func (h *Handle) Current() (domain.Location, bool) { return h.store.Current() }

// Status reports whether updates are flowing.
func (h *Handle) Status() domain.TrackingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the most recent channel failure, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Errors yields one *domain.ChannelError per channel failure. It is closed
// by Stop.
func (h *Handle) Errors() <-chan error { return h.errs }

// Stop detaches the channel and the renderer. After Stop returns, late
// deliveries change nothing and draw nothing. Safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		stopWatch := h.stopWatch
		h.mu.Unlock()
		if stopWatch != nil {
			stopWatch()
		}
		h.sub.Detach()
		h.removeRenderer()

		h.mu.Lock()
		h.stopped = true
		h.status = domain.TrackingStopped
		close(h.errs)
		h.mu.Unlock()

		h.cancel()
		h.log.Info().Msg("tracking stopped")
	})
}

func (h *Handle) channelFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.status = domain.TrackingUnavailable
	h.lastErr = err
	select {
	case h.errs <- err:
	default:
		h.log.Warn().Err(err).Msg("error buffer full, channel failure not queued")
	}
}

func (h *Handle) draw(loc domain.Location) {
	h.render(&loc)
}

func (h *Handle) drawDefault() {
	h.render(nil)
}

func (h *Handle) render(loc *domain.Location) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	mode := domain.RenderReposition
	if !h.mounted {
		mode = domain.RenderMount
		// A default frame does not count as mounted on a real position.
		h.mounted = loc != nil
	}
	h.mu.Unlock()

	if err := h.renderer.Render(h.ctx, render.BuildView(h.orderID, loc, mode)); err != nil {
		metrics.RenderErrorsTotal.Inc()
		h.log.Warn().Err(err).Msg("map render failed")
	}
}
