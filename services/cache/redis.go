// Package cache implements core.Cache on top of Redis, with an in-process fallback.
package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/abmarghoub/EduPathInsight/core"
)

var _ core.Cache = (*Redis)(nil)

type Redis struct {
	client redis.Cmdable
}

// NewRedisClient connects to the configured server and checks it answers.
func NewRedisClient(ctx context.Context, conf core.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrapf(r.client.Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(r.client.Del(ctx, keys...).Err(), "redis del")
}
