package ports

import (
	"context"
	"time"

	"github.com/wear60/tracking-service/internal/core/domain"
)

// ListOrdersFilter carries the query parameters for listing orders.
type ListOrdersFilter struct {
	Status domain.OrderStatus // optional
	UserID string             // optional; the customer who placed the order
	Limit  int                // capped at 100 by the service
}

// LocationReader is the point-read half of the backing store used by the
// tracking core.
type LocationReader interface {
	// FindByID returns domain.ErrOrderNotFound when no row exists.
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
}

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	LocationReader

	// List returns orders matching filter, newest first.
	List(ctx context.Context, filter ListOrdersFilter) ([]*domain.Order, error)

	// Assign moves a pending order to accepted, records the partner and
	// returns the updated row. Returns domain.ErrAlreadyAssigned when another
	// partner won the race.
	Assign(ctx context.Context, orderID, partnerID string, ts time.Time) (*domain.Order, error)

	// UpdateStatus sets the status only while the stored status still equals
	// from and ts is newer than the stored updated_at, and returns the updated
	// row. Returns domain.ErrStaleWrite when only the timestamp guard failed.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, ts time.Time) (*domain.Order, error)

	// UpdatePosition stores a position only if ts is newer than the stored
	// updated_at. It returns the updated row, or nil when nothing changed.
	UpdatePosition(ctx context.Context, orderID string, pos domain.Coordinates, ts time.Time) (*domain.Order, error)
}
