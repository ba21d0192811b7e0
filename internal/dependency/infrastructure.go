package dependency

import (
	"context"
	"expvar"
	"fmt"
	"runtime"
	"sync"

	"github.com/hilthontt/pokersync/internal/infrastructure/events"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/messaging"
	"github.com/hilthontt/pokersync/internal/infrastructure/metrics"
	"github.com/hilthontt/pokersync/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/pokersync/internal/infrastructure/tracing"
	"github.com/redis/go-redis/v9"
)

var publishOnce sync.Once

func (c *Container) initInfrastructure() error {
	shutdown, err := tracing.InitTracer(c.ctx, tracing.Config{
		Enabled:      c.Config.Tracing.Enabled,
		ServiceName:  c.Config.Tracing.ServiceName,
		Endpoint:     c.Config.Tracing.Endpoint,
		Insecure:     c.Config.Tracing.Insecure,
		SamplingRate: c.Config.Tracing.SamplingRate,
	})
	if err != nil {
		return err
	}
	c.shutdownTracer = shutdown

	c.Metrics = metrics.New()

	publishOnce.Do(func() {
		expvar.Publish("goroutines", expvar.Func(func() any {
			return runtime.NumGoroutine()
		}))
	})

	if c.Config.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			return err
		}
	}

	if err := c.initRateLimiter(); err != nil {
		return err
	}

	c.Events = events.NewNopPublisher()
	if c.Config.RabbitMQ.Enabled {
		rmq, err := messaging.NewRabbitMQ(c.Config.RabbitMQ.URI, c.Config.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		c.RabbitMQ = rmq
		c.Events = events.NewRoomPublisher(rmq)

		c.Logger.Info(logging.RabbitMQ, logging.Startup, "connected to rabbitmq", map[logging.ExtraKey]any{
			"Exchange": c.Config.RabbitMQ.Exchange,
		})
	}

	return nil
}

func (c *Container) initRedis() error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(c.ctx, c.Config.Storage.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping redis at %s: %w", c.Config.Redis.Addr, err)
	}
	c.Redis = client

	c.Logger.Info(logging.Redis, logging.Startup, "connected to redis", map[logging.ExtraKey]any{
		"Addr": c.Config.Redis.Addr,
	})
	return nil
}

func (c *Container) initRateLimiter() error {
	switch c.Config.RateLimiter.Backend {
	case "redis":
		if c.Redis == nil {
			return fmt.Errorf("rateLimiter.backend is redis but redis is not enabled")
		}
		c.limiterBackend = ratelimiter.NewRedis(c.Redis)
	default:
		c.limiterBackend = ratelimiter.NewInMemory()
	}

	c.Limiter = ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: c.Config.RateLimiter.MaxRatePerSecond,
		MaxBurst:         c.Config.RateLimiter.MaxBurst,
		Cache:            c.limiterBackend,
		CacheTTL:         c.Config.RateLimiter.CacheTTL,
		SourceHeaderKey:  c.Config.RateLimiter.SourceHeaderKey,
	})
	return nil
}
