package ports

import (
	"context"
	"time"

	"github.com/wear60/tracking-service/internal/core/domain"
)

// OrderSummary is the lightweight list view of an order.
type OrderSummary struct {
	ID              string
	Status          string
	ShippingAddress string
	Latitude        *float64
	Longitude       *float64
	CreatedAt       time.Time
}

// TrackingSnapshot is the one-shot tracking view of an order. Location is nil
// until a position has been reported.
type TrackingSnapshot struct {
	OrderID  string
	Status   domain.OrderStatus
	Location *domain.Location
	View     domain.MapView
}

// UpdateStatusInput carries a status change requested by a delivery partner.
type UpdateStatusInput struct {
	OrderID   string
	PartnerID string
	Status    string
	Timestamp time.Time
}

// OrderService defines use-case operations on orders.
type OrderService interface {
	ListPending(ctx context.Context, limit int) ([]OrderSummary, error)
	// ListForCustomer returns the orders userID placed, newest first.
	ListForCustomer(ctx context.Context, userID string, limit int) ([]OrderSummary, error)
	Accept(ctx context.Context, orderID, partnerID string) error
	UpdateStatus(ctx context.Context, input UpdateStatusInput) error
	// Authorize loads the order and checks that p may watch it.
	Authorize(ctx context.Context, orderID string, p domain.Principal) error
	Snapshot(ctx context.Context, orderID string, p domain.Principal) (*TrackingSnapshot, error)
}
