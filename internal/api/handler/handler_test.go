package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/api/middleware"
	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

var (
	customer = domain.Principal{Subject: "user_1", Role: domain.RoleCustomer}
	partner  = domain.Principal{Subject: "partner_1", Role: domain.RoleDeliveryPartner}
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

// newContext builds a request context as the Auth middleware would leave it.
func newContext(e *echo.Echo, method, target string, body io.Reader, p *domain.Principal) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if p != nil {
		c.Set(middleware.ContextRole, p.Role)
		c.Set(middleware.ContextPrincipal, *p)
	}
	return c, rec
}

// as injects p the way the Auth middleware does, for routed tests.
func as(p domain.Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.ContextRole, p.Role)
			c.Set(middleware.ContextPrincipal, p)
			return next(c)
		}
	}
}

// statusOf runs Echo's error handler the way the router would.
func statusOf(e *echo.Echo, c echo.Context, rec *httptest.ResponseRecorder, err error) int {
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec.Code
}

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubDispatcher struct {
	mu     sync.Mutex
	single []ports.LocationPingInput
	batch  [][]ports.LocationPingInput
	err    error // returned instead of queueing
}

func (d *stubDispatcher) Enqueue(_ context.Context, p ports.LocationPingInput) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.single = append(d.single, p)
	return nil
}

func (d *stubDispatcher) EnqueueBatch(_ context.Context, ps []ports.LocationPingInput) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.batch = append(d.batch, ps)
	return nil
}

type stubOrderService struct {
	pending      []ports.OrderSummary
	mine         []ports.OrderSummary
	lastUser     string
	lastLimit    int
	accepted     []string
	statusInputs []ports.UpdateStatusInput
	snapshot     *ports.TrackingSnapshot
	err          error
	authorizeErr error
}

func (s *stubOrderService) ListPending(_ context.Context, limit int) ([]ports.OrderSummary, error) {
	s.lastLimit = limit
	return s.pending, s.err
}

func (s *stubOrderService) ListForCustomer(_ context.Context, userID string, limit int) ([]ports.OrderSummary, error) {
	s.lastUser, s.lastLimit = userID, limit
	return s.mine, s.err
}

func (s *stubOrderService) Accept(_ context.Context, orderID, partnerID string) error {
	s.accepted = append(s.accepted, orderID+":"+partnerID)
	return s.err
}

func (s *stubOrderService) UpdateStatus(_ context.Context, in ports.UpdateStatusInput) error {
	s.statusInputs = append(s.statusInputs, in)
	return s.err
}

func (s *stubOrderService) Authorize(_ context.Context, _ string, _ domain.Principal) error {
	return s.authorizeErr
}

func (s *stubOrderService) Snapshot(_ context.Context, _ string, _ domain.Principal) (*ports.TrackingSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

// --- change feed used by the stream tests ---

type testChannel struct {
	events    chan domain.ChangeEvent
	closeOnce sync.Once
}

func (c *testChannel) Events() <-chan domain.ChangeEvent { return c.events }
func (c *testChannel) Err() error                        { return nil }
func (c *testChannel) Close() error {
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

type testFeed struct {
	mu       sync.Mutex
	failures int // Open fails this many times before succeeding
	opened   chan *testChannel
}

func newTestFeed(failures int) *testFeed {
	return &testFeed{failures: failures, opened: make(chan *testChannel, 8)}
}

func (f *testFeed) Open(_ context.Context, _ string) (ports.FeedChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, io.ErrUnexpectedEOF
	}
	ch := &testChannel{events: make(chan domain.ChangeEvent)}
	f.opened <- ch
	return ch, nil
}

func (f *testFeed) next(timeout time.Duration) *testChannel {
	select {
	case ch := <-f.opened:
		return ch
	case <-time.After(timeout):
		return nil
	}
}

type testReader struct {
	order *domain.Order
}

func (r *testReader) FindByID(_ context.Context, id string) (*domain.Order, error) {
	if r.order == nil || r.order.ID != id {
		return nil, domain.ErrOrderNotFound
	}
	clone := *r.order
	return &clone, nil
}
