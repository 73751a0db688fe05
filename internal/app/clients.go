package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/repair"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/gemini"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/openai"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/redisx"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/temporalx"
)

const registryCacheTTL = 10 * time.Minute

type Clients struct {
	Redis     *goredis.Client
	Cache     *redisx.Cache
	Locker    *redisx.Locker
	Bus       *redisx.Bus
	Generator repair.Generator
	Temporal  temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	var out Clients

	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return out, err
		}
		bus, err := redisx.NewBus(log, rdb, cfg.RedisChannel)
		if err != nil {
			_ = rdb.Close()
			return out, err
		}
		out.Redis = rdb
		out.Cache = redisx.NewCache(rdb, "driftd:registry:", registryCacheTTL)
		out.Locker = redisx.NewLocker(rdb, "driftd:lock:")
		out.Bus = bus
		log.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		log.Warn("REDIS_ADDR not set; registry cache and activation lock are process-local")
	}

	gen, err := newGenerator(log, cfg.GenerativeProvider)
	if err != nil {
		out.Close()
		return out, err
	}
	out.Generator = gen

	if cfg.Scheduler == SchedulerTemporal {
		tcfg := temporalx.LoadConfig()
		if tcfg.Address == "" {
			out.Close()
			return out, fmt.Errorf("SCHEDULER=temporal requires TEMPORAL_ADDRESS")
		}
		tc, err := temporalx.NewClient(ctx, log, tcfg)
		if err != nil {
			out.Close()
			return out, fmt.Errorf("temporal client: %w", err)
		}
		out.Temporal = tc
	}
	return out, nil
}

// newGenerator returns nil for "none", which leaves the slow path on the
// best below-threshold candidate.
func newGenerator(log *logger.Logger, provider string) (repair.Generator, error) {
	switch provider {
	case "openai":
		c, err := openai.NewClient(log, openai.ConfigFromEnv())
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		return c, nil
	case "gemini":
		c, err := gemini.NewClient(log, gemini.ConfigFromEnv())
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return c, nil
	default:
		log.Info("no generative provider configured; slow path uses similarity candidates only")
		return nil, nil
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
		c.Temporal = nil
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
		c.Redis = nil
	}
}
