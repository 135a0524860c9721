package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultTimeout = 10 * time.Second

// ErrNoReplicaSet is returned by Connect when change streams are required
// but the server is a standalone mongod.
var ErrNoReplicaSet = errors.New("mongo: change streams need a replica set or sharded cluster")

// Config captures the settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	AppName  string
	Timeout  time.Duration
	// RequireChangeStreams makes Connect fail fast against a standalone server.
	RequireChangeStreams bool
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	if cfg.RequireChangeStreams {
		if err := checkReplicaSet(connectCtx, db); err != nil {
			_ = client.Disconnect(connectCtx)
			return nil, nil, err
		}
	}
	return client, db, nil
}

func checkReplicaSet(ctx context.Context, db *mongo.Database) error {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return fmt.Errorf("mongo hello: %w", err)
	}
	// mongos answers with msg "isdbgrid".
	if hello.SetName == "" && hello.Msg != "isdbgrid" {
		return ErrNoReplicaSet
	}
	return nil
}
