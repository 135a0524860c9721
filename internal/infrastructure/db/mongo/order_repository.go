package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"
)

const collectionOrders = "orders"

type OrderRepository struct {
	col *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{col: db.Collection(collectionOrders)}
}

// Collection exposes the orders collection to the change stream feed.
func (r *OrderRepository) Collection() *mongo.Collection { return r.col }

// FindByID retrieves an order by its id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var o domain.Order
	err := r.col.FindOne(ctx, bson.M{"_id": orderID}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, f ports.ListOrdersFilter) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := r.col.Find(ctx, listFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Order
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list orders: decode: %w", err)
	}
	return out, nil
}

func listFilter(f ports.ListOrdersFilter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	return filter
}

// olderThan matches rows whose updated_at is before ts. Rows inserted
// without updated_at count as older than any write.
func olderThan(ts time.Time) bson.A {
	return bson.A{
		bson.M{"updated_at": bson.M{"$lt": ts.UTC()}},
		bson.M{"updated_at": bson.M{"$exists": false}},
	}
}

// afterImage returns the row as it is once the update is applied.
func afterImage() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// Assign moves a pending order to accepted and returns the updated row. The
// status filter makes the first partner win when two accept at once.
func (r *OrderRepository) Assign(ctx context.Context, orderID, partnerID string, ts time.Time) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": orderID, "status": string(domain.StatusPending)}
	update := bson.M{"$set": bson.M{
		"status":              string(domain.StatusAccepted),
		"delivery_partner_id": partnerID,
		"updated_at":          ts.UTC(),
	}}

	var o domain.Order
	err := r.col.FindOneAndUpdate(ctx, filter, update, afterImage()).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOr(ctx, orderID, domain.ErrAlreadyAssigned)
	}
	if err != nil {
		return nil, fmt.Errorf("assign order: %w", err)
	}
	return &o, nil
}

// UpdateStatus sets the status while the stored status still equals from and
// ts is newer than the stored updated_at. It returns the updated row, or
// domain.ErrStaleWrite when only the timestamp guard failed.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, ts time.Time) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": orderID, "status": string(from), "$or": olderThan(ts)}
	update := bson.M{"$set": bson.M{"status": string(to), "updated_at": ts.UTC()}}

	var o domain.Order
	err := r.col.FindOneAndUpdate(ctx, filter, update, afterImage()).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, findErr := r.FindByID(ctx, orderID)
		if findErr != nil {
			return nil, findErr
		}
		if cur.Status != from {
			return nil, domain.ErrInvalidTransition
		}
		return nil, domain.ErrStaleWrite
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return &o, nil
}

// UpdatePosition stores pos only when ts is newer than the stored updated_at,
// so the row's updated_at never moves backwards. It returns the updated row,
// or nil when the ping was older than the stored state.
func (r *OrderRepository) UpdatePosition(ctx context.Context, orderID string, pos domain.Coordinates, ts time.Time) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": orderID, "$or": olderThan(ts)}
	update := bson.M{"$set": bson.M{
		"latitude":   pos.Lat,
		"longitude":  pos.Lng,
		"updated_at": ts.UTC(),
	}}

	var o domain.Order
	err := r.col.FindOneAndUpdate(ctx, filter, update, afterImage()).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOr(ctx, orderID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	return &o, nil
}

// missOr tells a missing order apart from a filter that did not match.
func (r *OrderRepository) missOr(ctx context.Context, orderID string, mismatch error) error {
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": orderID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return mismatch
}

// EnsureIndexes creates necessary indexes on the orders collection.
func (r *OrderRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "delivery_partner_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}
