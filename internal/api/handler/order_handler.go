package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/core/ports"
)

// OrderHandler handles order listing and the delivery partner's workflow.
type OrderHandler struct {
	service ports.OrderService
}

func NewOrderHandler(service ports.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// ListPending handles GET /v1/orders/pending.
//
// @Summary      List orders waiting for a delivery partner
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Max rows (default 20, max 100)"
// @Success      200    {object}  listOrdersResponse
// @Failure      400    {object}  errorResponse
// @Failure      401    {object}  errorResponse
// @Failure      403    {object}  errorResponse
// @Router       /v1/orders/pending [get]
func (h *OrderHandler) ListPending(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	orders, err := h.service.ListPending(c.Request().Context(), limit)
	if err != nil {
		return err
	}

	data := make([]orderSummaryResponse, 0, len(orders))
	for _, o := range orders {
		data = append(data, toSummaryResponse(o))
	}
	return c.JSON(http.StatusOK, listOrdersResponse{Data: data})
}

// ListMine handles GET /v1/orders for the customer who placed the orders.
//
// @Summary      List the caller's orders
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Max rows (default 20, max 100)"
// @Success      200    {object}  listOrdersResponse
// @Failure      400    {object}  errorResponse
// @Failure      401    {object}  errorResponse
// @Failure      403    {object}  errorResponse
// @Router       /v1/orders [get]
func (h *OrderHandler) ListMine(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	orders, err := h.service.ListForCustomer(c.Request().Context(), p.Subject, limit)
	if err != nil {
		return err
	}

	data := make([]orderSummaryResponse, 0, len(orders))
	for _, o := range orders {
		row := toSummaryResponse(o)
		links := linksFor(o.ID)
		row.Links = &links
		data = append(data, row)
	}
	return c.JSON(http.StatusOK, listOrdersResponse{Data: data})
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}

func toSummaryResponse(o ports.OrderSummary) orderSummaryResponse {
	return orderSummaryResponse{
		ID:              o.ID,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		Latitude:        o.Latitude,
		Longitude:       o.Longitude,
		CreatedAt:       o.CreatedAt,
	}
}

// Accept handles POST /v1/orders/:id/accept.
//
// @Summary      Accept a pending order
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order id"
// @Success      200  {object}  acceptedResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /v1/orders/{id}/accept [post]
func (h *OrderHandler) Accept(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	if err := h.service.Accept(c.Request().Context(), c.Param("id"), p.Subject); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acceptedResponse{Message: "order accepted"})
}

// UpdateStatus handles PATCH /v1/orders/:id/status.
//
// @Summary      Advance the delivery status of an assigned order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string               true  "Order id"
// @Param        body  body      updateStatusRequest  true  "New status"
// @Success      200   {object}  acceptedResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /v1/orders/{id}/status [patch]
func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	err = h.service.UpdateStatus(c.Request().Context(), ports.UpdateStatusInput{
		OrderID:   c.Param("id"),
		PartnerID: p.Subject,
		Status:    req.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acceptedResponse{Message: "status updated"})
}
