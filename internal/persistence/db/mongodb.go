package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	RoomsCollection = "rooms"

	DefaultDatabase          = "pokersync"
	DefaultAppName           = "pokersync"
	DefaultConnectionTimeout = 20 * time.Second
	DefaultSlowCommand       = 500 * time.Millisecond

	disconnectTimeout = 10 * time.Second
)

var (
	ErrMissingConfig   = errors.New("mongodb config is required")
	ErrMissingURI      = errors.New("mongodb URI is required")
	ErrMissingDatabase = errors.New("mongodb database is required")
)

type MongoConfig struct {
	URI               string
	Database          string
	ConnectionTimeout time.Duration
	MaxPoolSize       uint64
	MinPoolSize       uint64
	// SlowCommand logs commands that take longer than this. Zero uses
	// DefaultSlowCommand, a negative value turns the log off.
	SlowCommand time.Duration
}

func (c *MongoConfig) validate() error {
	switch {
	case c == nil:
		return ErrMissingConfig
	case c.URI == "":
		return ErrMissingURI
	case c.Database == "":
		return ErrMissingDatabase
	}

	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.SlowCommand == 0 {
		c.SlowCommand = DefaultSlowCommand
	}
	return nil
}

// NewMongoClient connects and pings the primary. The returned client is
// ready for use.
func NewMongoClient(ctx context.Context, cfg *MongoConfig, logger logging.Logger) (*mongo.Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(DefaultAppName).
		SetServerSelectionTimeout(cfg.ConnectionTimeout).
		SetConnectTimeout(cfg.ConnectionTimeout)
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.SlowCommand > 0 {
		clientOpts.SetMonitor(slowCommandMonitor(cfg.SlowCommand, logger))
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info(logging.MongoDB, logging.Startup, "connected to mongodb", map[logging.ExtraKey]any{
		"Database":    cfg.Database,
		"MaxPoolSize": cfg.MaxPoolSize,
	})
	return client, nil
}

func slowCommandMonitor(threshold time.Duration, logger logging.Logger) *event.CommandMonitor {
	report := func(name string, d time.Duration, failure string) {
		if d < threshold {
			return
		}
		extra := map[logging.ExtraKey]any{
			"Command":       name,
			logging.Latency: d.Milliseconds(),
		}
		if failure != "" {
			extra[logging.ErrorMessage] = failure
		}
		logger.Warn(logging.MongoDB, logging.SlowQuery, "slow mongodb command", extra)
	}

	return &event.CommandMonitor{
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			report(e.CommandName, e.Duration, "")
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			report(e.CommandName, e.Duration, e.Failure)
		},
	}
}

func GetDatabase(client *mongo.Client, cfg *MongoConfig) *mongo.Database {
	if client == nil || cfg == nil {
		return nil
	}
	return client.Database(cfg.Database)
}

func DisconnectMongo(ctx context.Context, client *mongo.Client) error {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}
