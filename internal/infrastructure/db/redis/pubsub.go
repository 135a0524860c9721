package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

// Channel format: order:<order_id>
func orderChannel(orderID string) string {
	return "order:" + orderID
}

// changeRow is the row image published for every order write. Null columns
// stay null on the wire.
type changeRow struct {
	ID        string     `json:"id"`
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Status    *string    `json:"status"`
	UpdatedAt *time.Time `json:"updated_at"`
}

func encodeRow(ev domain.ChangeEvent) ([]byte, error) {
	row := changeRow{
		ID:        ev.OrderID,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		UpdatedAt: ev.UpdatedAt,
	}
	if ev.Status != nil {
		s := string(*ev.Status)
		row.Status = &s
	}
	return json.Marshal(row)
}

func decodeRow(payload string) (domain.ChangeEvent, error) {
	var row changeRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change row: %w", err)
	}
	ev := domain.ChangeEvent{
		OrderID:   row.ID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Status != nil {
		st := domain.OrderStatus(*row.Status)
		ev.Status = &st
	}
	return ev, nil
}

// Publisher fans order row changes out over Redis Pub/Sub.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends the row image of ev to the order's channel.
func (p *Publisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := encodeRow(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, orderChannel(ev.OrderID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.OrderID, err)
	}
	return nil
}

// PubSubFeed opens one Redis subscription per tracked order. It is the feed
// used when MongoDB runs without change streams.
type PubSubFeed struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewPubSubFeed(client *redis.Client, log zerolog.Logger) *PubSubFeed {
	return &PubSubFeed{client: client, log: log.With().Str("feed", "redis").Logger()}
}

// Open subscribes to the order's channel and waits for the server to
// confirm the subscription.
func (f *PubSubFeed) Open(ctx context.Context, orderID string) (ports.FeedChannel, error) {
	sub := f.client.Subscribe(ctx, orderChannel(orderID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", orderID, err)
	}

	ch := &subChannel{
		sub:    sub,
		events: make(chan domain.ChangeEvent),
		quit:   make(chan struct{}),
	}
	go ch.run(orderID, f.log.With().Str("order_id", orderID).Logger())
	return ch, nil
}

type subChannel struct {
	sub    *redis.PubSub
	events chan domain.ChangeEvent
	quit   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	err       error
}

func (c *subChannel) Events() <-chan domain.ChangeEvent { return c.events }

func (c *subChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *subChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.quit)
		err = c.sub.Close()
	})
	return err
}

func (c *subChannel) run(orderID string, log zerolog.Logger) {
	defer close(c.events)

	// Channel() reconnects on its own; it is closed only by sub.Close.
	msgs := c.sub.Channel()
	for {
		select {
		case <-c.quit:
			return
		case msg, ok := <-msgs:
			if !ok {
				c.mu.Lock()
				if !c.closed {
					c.err = redis.ErrClosed
				}
				c.mu.Unlock()
				return
			}
			ev, err := decodeRow(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("undecodable change row skipped")
				continue
			}
			if ev.OrderID != "" && ev.OrderID != orderID {
				continue
			}
			ev.OrderID = orderID
			select {
			case c.events <- ev:
			case <-c.quit:
				return
			}
		}
	}
}
