//go:build integration

// Package testutils starts the backing services used by the integration
// tests. Every container is terminated when the test that started it ends.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/persistence/db"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	MongoImage    = "mongo:7"
	RedisImage    = "redis:7-alpine"
	RabbitMQImage = "rabbitmq:3.13-alpine"

	startupTimeout = 2 * time.Minute
)

func terminate(t testing.TB, container tc.Container) {
	t.Cleanup(func() {
		if err := tc.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}

// StartMongo returns a fresh database on a throwaway MongoDB server.
func StartMongo(t testing.TB) *mongo.Database {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := tcmongodb.Run(ctx, MongoImage)
	terminate(t, container)
	if err != nil {
		t.Fatalf("failed to start mongodb container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get mongodb connection string: %v", err)
	}

	cfg := &db.MongoConfig{URI: uri, Database: "pokersync_test"}
	client, err := db.NewMongoClient(ctx, cfg, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	t.Cleanup(func() {
		_ = db.DisconnectMongo(context.Background(), client)
	})

	return db.GetDatabase(client, cfg)
}

// StartRedis returns a client connected to a throwaway Redis server.
func StartRedis(t testing.TB) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := tcredis.Run(ctx, RedisImage)
	terminate(t, container)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

// StartRabbitMQ returns the AMQP URL of a throwaway broker.
func StartRabbitMQ(t testing.TB) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := tcrabbitmq.Run(ctx, RabbitMQImage)
	terminate(t, container)
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}

	uri, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get rabbitmq url: %v", err)
	}
	return uri
}
