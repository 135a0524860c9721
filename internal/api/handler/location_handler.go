package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

const (
	defaultPingSource = "partner_app"
	maxBatchSize      = 500
)

// PingDispatcher is the interface the handler uses to enqueue pings.
type PingDispatcher interface {
	Enqueue(ctx context.Context, ping ports.LocationPingInput) error
	EnqueueBatch(ctx context.Context, pings []ports.LocationPingInput) error
}

// LocationHandler handles delivery partner position reports.
type LocationHandler struct {
	dispatcher PingDispatcher
	now        func() time.Time
}

// NewLocationHandler creates a LocationHandler backed by the given dispatcher.
func NewLocationHandler(dispatcher PingDispatcher) *LocationHandler {
	return &LocationHandler{dispatcher: dispatcher, now: time.Now}
}

// Receive handles POST /v1/orders/:id/location: enqueues a single ping, returns 202.
//
// @Summary      Report the current position of an order
// @Tags         location
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string               true  "Order id"
// @Param        body  body      locationPingRequest  true  "Position"
// @Success      202   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /v1/orders/{id}/location [post]
func (h *LocationHandler) Receive(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}

	var req locationPingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := domain.CheckReportedAt(req.Timestamp, h.now()); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if err := h.dispatcher.Enqueue(c.Request().Context(), toPingInput(c.Param("id"), p.Subject, req)); err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{Message: "location accepted"})
}

// ReceiveBatch handles POST /v1/orders/:id/location/batch: enqueues pings
// buffered by the partner app while offline, returns 202.
//
// @Summary      Report a batch of buffered positions for an order
// @Tags         location
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                 true  "Order id"
// @Param        body  body      []locationPingRequest  true  "Positions, oldest first"
// @Success      202   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /v1/orders/{id}/location/batch [post]
func (h *LocationHandler) ReceiveBatch(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}

	var reqs []locationPingRequest
	if err := c.Bind(&reqs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if len(reqs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch cannot be empty")
	}
	if len(reqs) > maxBatchSize {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("batch exceeds %d pings", maxBatchSize))
	}

	orderID := c.Param("id")
	now := h.now()
	inputs := make([]ports.LocationPingInput, 0, len(reqs))
	for i, req := range reqs {
		if err := c.Validate(&req); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				fmt.Sprintf("ping[%d]: %s", i, err.Error()))
		}
		if err := domain.CheckReportedAt(req.Timestamp, now); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				fmt.Sprintf("ping[%d]: %s", i, err.Error()))
		}
		inputs = append(inputs, toPingInput(orderID, p.Subject, req))
	}

	if err := h.dispatcher.EnqueueBatch(c.Request().Context(), inputs); err != nil {
		return unavailable(err)
	}
	return c.JSON(http.StatusAccepted, acceptedResponse{
		Message: "locations accepted",
		Count:   len(inputs),
	})
}

// unavailable reports a ping that could not be queued, typically during
// shutdown. The partner app retries later.
func unavailable(err error) error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, "location ingestion unavailable").SetInternal(err)
}

// toPingInput maps the HTTP request to the service DTO.
func toPingInput(orderID, partnerID string, r locationPingRequest) ports.LocationPingInput {
	source := r.Source
	if source == "" {
		source = defaultPingSource
	}
	return ports.LocationPingInput{
		OrderID:   orderID,
		PartnerID: partnerID,
		Location:  ports.LocationInput{Lat: *r.Lat, Lng: *r.Lng},
		Timestamp: r.Timestamp,
		Source:    source,
	}
}
