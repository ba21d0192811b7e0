package dependency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
	"github.com/hilthontt/pokersync/internal/infrastructure/configs"
	"github.com/hilthontt/pokersync/internal/infrastructure/events"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
	"github.com/hilthontt/pokersync/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/pokersync/internal/infrastructure/tracing"
	"github.com/hilthontt/pokersync/internal/infrastructure/ws"
	"github.com/hilthontt/pokersync/internal/persistence/repository"
	"github.com/hilthontt/pokersync/internal/presentation/api"
	"github.com/hilthontt/pokersync/internal/presentation/handler/health"
	"github.com/hilthontt/pokersync/internal/presentation/handler/rooms"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container owns every long-lived component of the server and the order in
// which they are started and stopped.
type Container struct {
	Config *configs.Config
	Logger logging.Logger

	Metrics        *metrics.Metrics
	shutdownTracer tracing.ShutdownFunc

	Mongo    *mongo.Client
	Redis    redis.UniversalClient
	RabbitMQ *messaging.RabbitMQ

	Storage   domain.RoomStorage
	RoomCache *cache.Cache[*domain.Room]
	RoomStore *repository.RoomStore
	Events    events.RoomEvents

	limiterBackend ratelimiter.GetterSetter
	Limiter        ratelimiter.Limiter

	Hub *ws.Hub

	RoomHandler   *rooms.Handler
	HealthHandler *health.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewContainer(ctx context.Context, cfg *configs.Config, logger logging.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	logger.Info(logging.General, logging.Startup, "initializing dependencies", map[logging.ExtraKey]any{
		"StorageDriver": cfg.Storage.Driver,
		"Redis":         cfg.Redis.Enabled,
		"RabbitMQ":      cfg.RabbitMQ.Enabled,
	})

	if err := c.initInfrastructure(); err != nil {
		c.Close(context.Background())
		return nil, fmt.Errorf("error initializing infrastructure: %w", err)
	}

	if err := c.initRepositories(); err != nil {
		c.Close(context.Background())
		return nil, fmt.Errorf("error initializing repositories: %w", err)
	}

	c.initRealtime()
	c.initHandlers()

	return c, nil
}

// Application assembles the HTTP surface on top of the container.
func (c *Container) Application() *api.Application {
	return api.NewApplication(
		*c.Config,
		c.RoomHandler,
		c.HealthHandler,
		c.Logger,
		c.Limiter,
		c.Metrics,
		c.Hub,
	)
}

// Close stops background work and releases every client in reverse order
// of creation. The hub is expected to be shut down by the application.
func (c *Container) Close(ctx context.Context) error {
	c.cancel()
	c.wg.Wait()

	var errs []error

	if c.RoomCache != nil {
		c.RoomCache.Close()
	}
	if c.limiterBackend != nil {
		errs = append(errs, c.limiterBackend.Close())
	}
	if c.RabbitMQ != nil {
		c.RabbitMQ.Close()
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Mongo != nil {
		errs = append(errs, disconnectMongo(ctx, c.Mongo))
	}
	if c.shutdownTracer != nil {
		errs = append(errs, c.shutdownTracer(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		c.Logger.Error(logging.General, logging.Shutdown, "failed to release dependencies", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	return err
}

// goBackground runs fn until the container closes.
func (c *Container) goBackground(name string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := fn(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Error(logging.General, logging.ExternalService, name+" stopped", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}()
}
