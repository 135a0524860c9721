package ports

import (
	"context"

	"github.com/wear60/tracking-service/internal/core/domain"
)

// FeedChannel is one open push channel scoped to a single order.
//
// Events is closed when the channel ends, either because Close was called or
// because the transport dropped it. Err returns the drop reason, or nil after
// a clean Close.
type FeedChannel interface {
	Events() <-chan domain.ChangeEvent
	Err() error
	Close() error
}

// ChangeFeed opens push channels filtered by order id.
type ChangeFeed interface {
	Open(ctx context.Context, orderID string) (FeedChannel, error)
}

// ChangePublisher publishes a row change so that feeds without a native
// change stream can observe it.
type ChangePublisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// MapRenderer draws one map frame. Implementations keep no state beyond what
// they are given.
type MapRenderer interface {
	Render(ctx context.Context, view domain.MapView) error
}
