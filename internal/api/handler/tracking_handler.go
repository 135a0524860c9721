package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
	"github.com/wear60/tracking-service/internal/core/tracking"
)

// Observer starts live tracking of one order. *tracking.Tracker implements it.
type Observer interface {
	Observe(ctx context.Context, orderID string, renderer ports.MapRenderer) (*tracking.Handle, error)
}

// RetryPolicy controls how the stream re-observes an order after the push
// channel fails. The attempt budget resets once a channel comes up live.
type RetryPolicy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts uint64
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	return b
}

// TrackingHandler serves the customer-facing tracking views.
type TrackingHandler struct {
	orders    ports.OrderService
	observer  Observer
	retry     RetryPolicy
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewTrackingHandler(orders ports.OrderService, observer Observer, retry RetryPolicy, heartbeat time.Duration, log zerolog.Logger) *TrackingHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &TrackingHandler{orders: orders, observer: observer, retry: retry, heartbeat: heartbeat, log: log}
}

// Snapshot handles GET /v1/orders/:id/tracking.
//
// @Summary      Current position and map view of an order
// @Tags         tracking
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order id"
// @Success      200  {object}  trackingResponse
// @Failure      401  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      503  {object}  errorResponse
// @Router       /v1/orders/{id}/tracking [get]
func (h *TrackingHandler) Snapshot(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}

	snap, err := h.orders.Snapshot(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return err
	}

	resp := trackingResponse{
		OrderID: snap.OrderID,
		Status:  string(snap.Status),
		View:    toMapViewResponse(snap.View),
		Links:   linksFor(snap.OrderID),
	}
	if snap.Location != nil {
		resp.Location = &locationResponse{
			Lat:       snap.Location.Position.Lat,
			Lng:       snap.Location.Position.Lng,
			UpdatedAt: snap.Location.UpdatedAt,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Stream handles GET /v1/orders/:id/tracking/stream as Server-Sent Events.
// Each frame is a map view named after its render mode ("mount" or
// "reposition"). Channel failures emit "unavailable" and are retried with
// exponential backoff.
//
// @Summary      Live map frames for an order
// @Tags         tracking
// @Produce      text/event-stream
// @Security     BearerAuth
// @Param        id            path      string  true   "Order id"
// @Param        access_token  query     string  false  "JWT for clients that cannot set headers"
// @Success      200           {object}  mapViewResponse
// @Failure      401           {object}  errorResponse
// @Failure      403           {object}  errorResponse
// @Failure      404           {object}  errorResponse
// @Router       /v1/orders/{id}/tracking/stream [get]
func (h *TrackingHandler) Stream(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	orderID := c.Param("id")
	ctx := c.Request().Context()

	if err := h.orders.Authorize(ctx, orderID, p); err != nil {
		return err
	}

	w := newSSEWriter(c.Response())
	w.open()
	log := h.log.With().Str("order_id", orderID).Str("subject", p.Subject).Logger()

	// lastStatus outlives each handle so unavailable frames can still say
	// where the order was.
	var lastStatus domain.OrderStatus
	bo := backoff.WithContext(backoff.WithMaxRetries(h.retry.backOff(), h.retry.Attempts), ctx)
	op := func() error {
		handle, err := h.observer.Observe(ctx, orderID, w)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer handle.Stop()

		if handle.Status() == domain.TrackingLive {
			bo.Reset()
		}
		err = h.follow(ctx, handle, w)
		if loc, ok := handle.Current(); ok {
			lastStatus = loc.Status
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("tracking channel unavailable, retrying")
		_ = w.event("unavailable", unavailableFrame{
			OrderID:    orderID,
			Error:      err.Error(),
			RetryInMs:  wait.Milliseconds(),
			LastStatus: string(lastStatus),
		})
	}

	err = backoff.RetryNotify(op, bo, notify)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("tracking stream gave up")
		_ = w.event("unavailable", unavailableFrame{
			OrderID:    orderID,
			Error:      err.Error(),
			Final:      true,
			LastStatus: string(lastStatus),
		})
	}
	log.Debug().Msg("tracking stream closed")
	return nil
}

// CancelStreamsOnShutdown makes srv.Shutdown cancel the context of every
// in-flight request. Shutdown waits for active connections to go idle, and
// an open event stream only ends when its request context does.
func CancelStreamsOnShutdown(srv *http.Server) {
	base, cancel := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return base }
	srv.RegisterOnShutdown(cancel)
}

// follow keeps the stream alive until the client leaves or the handle
// reports a channel failure.
func (h *TrackingHandler) follow(ctx context.Context, handle *tracking.Handle, w *sseWriter) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case err, ok := <-handle.Errors():
			if !ok {
				return backoff.Permanent(context.Canceled)
			}
			return err
		case <-ticker.C:
			if err := w.comment("heartbeat"); err != nil {
				return backoff.Permanent(err)
			}
		}
	}
}

// sseWriter renders map frames onto an event stream. Frames arrive from
// the tracking goroutine while heartbeats come from the handler.
type sseWriter struct {
	mu  sync.Mutex
	res *echo.Response
}

func newSSEWriter(res *echo.Response) *sseWriter {
	return &sseWriter{res: res}
}

func (s *sseWriter) open() {
	hdr := s.res.Header()
	hdr.Set(echo.HeaderContentType, "text/event-stream")
	hdr.Set(echo.HeaderCacheControl, "no-cache")
	hdr.Set(echo.HeaderConnection, "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	s.res.WriteHeader(http.StatusOK)
	s.res.Flush()
}

// Render satisfies ports.MapRenderer.
func (s *sseWriter) Render(_ context.Context, view domain.MapView) error {
	return s.event(string(view.Mode), toMapViewResponse(view))
}

func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.res.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.res, ": %s\n\n", text); err != nil {
		return err
	}
	s.res.Flush()
	return nil
}

func toMapViewResponse(v domain.MapView) mapViewResponse {
	out := mapViewResponse{Mode: string(v.Mode), Center: v.Center, Zoom: v.Zoom}
	if v.Marker != nil {
		out.Marker = &markerResponse{Position: v.Marker.Position, Label: v.Marker.Label}
	}
	return out
}

func linksFor(orderID string) trackingLinks {
	return trackingLinks{
		Self:   "/v1/orders/" + orderID + "/tracking",
		Stream: "/v1/orders/" + orderID + "/tracking/stream",
	}
}
