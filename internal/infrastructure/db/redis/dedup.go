package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPingDedupWindow covers partner apps replaying their offline buffer.
const DefaultPingDedupWindow = 15 * time.Minute

// PingDedup remembers which location pings were already applied. A ping is
// identified by order, partner and its millisecond timestamp.
type PingDedup struct {
	client *redis.Client
	window time.Duration
}

// NewPingDedup returns a PingDedup whose markers expire after window, or
// DefaultPingDedupWindow when window is not positive.
func NewPingDedup(client *redis.Client, window time.Duration) *PingDedup {
	if window <= 0 {
		window = DefaultPingDedupWindow
	}
	return &PingDedup{client: client, window: window}
}

// IsDuplicate reports whether the ping was marked within the window.
func (d *PingDedup) IsDuplicate(ctx context.Context, orderID, partnerID string, ts time.Time) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(orderID, partnerID, ts)).Result()
	if err != nil {
		return false, fmt.Errorf("ping dedup lookup %s: %w", orderID, err)
	}
	return n == 1, nil
}

// Mark records the ping. The first marker wins; its expiry is not extended.
func (d *PingDedup) Mark(ctx context.Context, orderID, partnerID string, ts time.Time) error {
	if err := d.client.SetNX(ctx, dedupKey(orderID, partnerID, ts), 1, d.window).Err(); err != nil {
		return fmt.Errorf("ping dedup mark %s: %w", orderID, err)
	}
	return nil
}

func dedupKey(orderID, partnerID string, ts time.Time) string {
	return fmt.Sprintf("dedup:ping:%s:%s:%d", orderID, partnerID, ts.UnixMilli())
}
