package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func f64(v float64) *float64 { return &v }

func st(s domain.OrderStatus) *domain.OrderStatus { return &s }

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func event(lat, lng float64, status domain.OrderStatus, sec int64) domain.ChangeEvent {
	ev := domain.ChangeEvent{Latitude: f64(lat), Longitude: f64(lng), UpdatedAt: at(sec)}
	if status != "" {
		ev.Status = st(status)
	}
	return ev
}

// ---------------------------------------------------------------------------
// Feed stubs
// ---------------------------------------------------------------------------

type fakeChannel struct {
	orderID string
	events  chan domain.ChangeEvent
	// sticky channels ignore Close, like a transport that keeps delivering
	// after the consumer let go.
	sticky bool

	mu       sync.Mutex
	closed   bool
	finished bool
	err      error
}

func (c *fakeChannel) Events() <-chan domain.ChangeEvent { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.sticky {
		c.finishLocked()
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push blocks until the delivery goroutine has received ev.
func (c *fakeChannel) push(ev domain.ChangeEvent) {
	c.events <- ev
}

// drop simulates the transport ending the channel.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.finishLocked()
}

// finish releases a sticky channel's event stream.
func (c *fakeChannel) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked()
}

func (c *fakeChannel) finishLocked() {
	if !c.finished {
		c.finished = true
		close(c.events)
	}
}

type fakeFeed struct {
	mu       sync.Mutex
	openErr  error
	sticky   bool
	opened   []string
	channels []*fakeChannel
}

func (f *fakeFeed) Open(_ context.Context, orderID string) (ports.FeedChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, orderID)
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := &fakeChannel{orderID: orderID, events: make(chan domain.ChangeEvent), sticky: f.sticky}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeFeed) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[i]
}

// ---------------------------------------------------------------------------
// Reader and renderer stubs
// ---------------------------------------------------------------------------

type stubReader struct {
	orders map[string]*domain.Order
	err    error
	// block, when set, is waited on before returning.
	block chan struct{}
}

func (r *stubReader) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	clone := *o
	return &clone, nil
}

type recordingRenderer struct {
	mu    sync.Mutex
	views []domain.MapView
	err   error
}

func (r *recordingRenderer) Render(_ context.Context, v domain.MapView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	return r.err
}

func (r *recordingRenderer) frames() []domain.MapView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MapView, len(r.views))
	copy(out, r.views)
	return out
}

var errTransport = errors.New("connection reset")
