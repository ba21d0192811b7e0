package dependency

import (
	"context"
	"fmt"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/persistence/db"
	"github.com/hilthontt/pokersync/internal/persistence/repository"
	"go.mongodb.org/mongo-driver/mongo"
)

func (c *Container) initRepositories() error {
	switch c.Config.Storage.Driver {
	case "mongo":
		if err := c.initMongo(); err != nil {
			return err
		}
	default:
		c.Storage = repository.NewMemoryRoomStorage()
	}

	policy, err := cache.ParseEvictionPolicy(c.Config.Cache.EvictionPolicy)
	if err != nil {
		return err
	}

	c.RoomCache = cache.New(cache.Options[*domain.Room]{
		CleanupInterval: c.Config.Cache.CleanupInterval,
		MaxItems:        c.Config.Cache.Capacity,
		EvictionPolicy:  policy,
	})

	invalidator := cache.NewNopInvalidator()
	var redisInvalidator *cache.RedisInvalidator
	if c.Redis != nil {
		redisInvalidator = cache.NewRedisInvalidator(c.Redis, c.Config.Redis.Channel, c.Logger)
		invalidator = redisInvalidator
	}

	c.RoomStore = repository.NewRoomStore(c.Storage, c.RoomCache, repository.StoreOptions{
		TTL:         c.Config.Cache.TTL,
		Invalidator: invalidator,
		Metrics:     c.Metrics,
		Logger:      c.Logger,
	})

	if redisInvalidator != nil {
		c.goBackground("cache invalidation listener", func(ctx context.Context) error {
			return redisInvalidator.Listen(ctx, c.RoomStore.Invalidate)
		})
	}

	return nil
}

func (c *Container) initMongo() error {
	cfg := &db.MongoConfig{
		URI:               c.Config.Mongo.URI,
		Database:          c.Config.Mongo.Database,
		ConnectionTimeout: c.Config.Storage.Timeout,
		MaxPoolSize:       c.Config.Mongo.MaxPoolSize,
		MinPoolSize:       c.Config.Mongo.MinPoolSize,
		SlowCommand:       c.Config.Mongo.SlowCommand,
	}

	client, err := db.NewMongoClient(c.ctx, cfg, c.Logger)
	if err != nil {
		return err
	}
	c.Mongo = client

	storage := repository.NewMongoRoomStorage(db.GetDatabase(client, cfg), c.Config.Mongo.Collection)

	ctx, cancel := context.WithTimeout(c.ctx, c.Config.Storage.Timeout)
	defer cancel()

	if err := storage.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create room indexes: %w", err)
	}
	c.Storage = storage

	c.Logger.Info(logging.MongoDB, logging.Startup, "room indexes ready", map[logging.ExtraKey]any{
		"Collection": c.Config.Mongo.Collection,
	})
	return nil
}

func disconnectMongo(ctx context.Context, client *mongo.Client) error {
	return db.DisconnectMongo(ctx, client)
}
