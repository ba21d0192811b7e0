package dependency

import (
	"context"

	"github.com/hilthontt/pokersync/internal/infrastructure/ws"
	"github.com/hilthontt/pokersync/internal/presentation/handler/health"
	"github.com/hilthontt/pokersync/internal/presentation/handler/rooms"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func (c *Container) initRealtime() {
	room := c.Config.Room

	c.Hub = ws.NewHub(c.RoomStore, ws.HubOptions{
		EventsPerSecond: room.EventsPerSecond,
		EmptyPolicy:     room.EmptyPolicy,
		EmptyGrace:      room.EmptyGrace,
		MutationTimeout: room.MutationTimeout,
		Events:          c.Events,
		Metrics:         c.Metrics,
		Logger:          c.Logger,
	})
}

func (c *Container) initHandlers() {
	room := c.Config.Room

	c.RoomHandler = rooms.NewHandler(c.RoomStore, c.Hub, rooms.Options{
		Events:         c.Events,
		Logger:         c.Logger,
		AllowedOrigins: c.Config.HTTP.AllowedOrigins,
		Connection: ws.ConnectionOptions{
			SendBuffer:        room.SendBuffer,
			MaxMessageSize:    room.MaxMessageSize,
			HeartbeatInterval: room.HeartbeatInterval,
			Metrics:           c.Metrics,
			Logger:            c.Logger,
		},
	})

	c.HealthHandler = health.NewHandler(c.readinessChecks())
}

func (c *Container) readinessChecks() map[string]health.Check {
	checks := map[string]health.Check{}

	if c.Mongo != nil {
		checks["mongodb"] = func(ctx context.Context) error {
			return c.Mongo.Ping(ctx, readpref.Primary())
		}
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}
	}
	if c.RabbitMQ != nil {
		checks["rabbitmq"] = func(context.Context) error {
			return c.RabbitMQ.Healthy()
		}
	}

	return checks
}
