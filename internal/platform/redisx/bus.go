package redisx

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

// Bus fans cache-invalidation keys out to every replica.
type Bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewBus(log *logger.Logger, rdb *goredis.Client, channel string) (*Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if channel == "" {
		channel = "mapping-invalidate"
	}
	return &Bus{log: log.With("service", "RedisInvalidationBus"), rdb: rdb, channel: channel}, nil
}

func (b *Bus) Publish(ctx context.Context, key string) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	return b.rdb.Publish(ctx, b.channel, key).Err()
}

// Subscribe blocks until the subscription is confirmed, then forwards keys to
// onKey from a background goroutine until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, onKey func(key string)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onKey == nil {
		return fmt.Errorf("onKey callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				onKey(m.Payload)
			}
		}
	}()
	return nil
}
