package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

// ChangeStreamFeed opens one MongoDB change stream per tracked order,
// filtered server-side on the document key. It needs a replica set.
type ChangeStreamFeed struct {
	col *mongo.Collection
	log zerolog.Logger
}

func NewChangeStreamFeed(col *mongo.Collection, log zerolog.Logger) *ChangeStreamFeed {
	return &ChangeStreamFeed{col: col, log: log.With().Str("feed", "mongo").Logger()}
}

// orderRow holds the tracked columns of the post-image. Absent or null
// fields decode to nil.
type orderRow struct {
	Latitude  *float64   `bson:"latitude"`
	Longitude *float64   `bson:"longitude"`
	Status    *string    `bson:"status"`
	UpdatedAt *time.Time `bson:"updated_at"`
}

type changeDoc struct {
	OperationType string    `bson:"operationType"`
	FullDocument  *orderRow `bson:"fullDocument"`
}

// Open starts watching orderID. ctx bounds only the initial aggregate; the
// stream lives until Close.
func (f *ChangeStreamFeed) Open(ctx context.Context, orderID string) (ports.FeedChannel, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: orderID},
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := f.col.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("watch order %s: %w", orderID, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &streamChannel{
		events: make(chan domain.ChangeEvent),
		cancel: cancel,
	}
	go ch.run(streamCtx, cs, orderID, f.log.With().Str("order_id", orderID).Logger())
	return ch, nil
}

type streamChannel struct {
	events chan domain.ChangeEvent
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (c *streamChannel) Events() <-chan domain.ChangeEvent { return c.events }

func (c *streamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamChannel) Close() error {
	c.cancel()
	return nil
}

func (c *streamChannel) run(ctx context.Context, cs *mongo.ChangeStream, orderID string, log zerolog.Logger) {
	defer close(c.events)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		_ = cs.Close(closeCtx)
	}()

	for cs.Next(ctx) {
		var doc changeDoc
		if err := cs.Decode(&doc); err != nil {
			log.Warn().Err(err).Msg("undecodable change document skipped")
			continue
		}
		ev, ok := toChangeEvent(orderID, doc)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}

	if ctx.Err() == nil {
		c.mu.Lock()
		c.err = cs.Err()
		c.mu.Unlock()
		log.Warn().Err(cs.Err()).Msg("change stream ended")
	}
}

// toChangeEvent maps a change document to the tracking core's event shape.
// Documents without a post-image carry nothing to track.
func toChangeEvent(orderID string, doc changeDoc) (domain.ChangeEvent, bool) {
	if doc.FullDocument == nil {
		return domain.ChangeEvent{}, false
	}
	row := doc.FullDocument
	ev := domain.ChangeEvent{
		OrderID:   orderID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Status != nil {
		st := domain.OrderStatus(*row.Status)
		ev.Status = &st
	}
	if ev.UpdatedAt != nil {
		ts := ev.UpdatedAt.UTC()
		ev.UpdatedAt = &ts
	}
	return ev, true
}
