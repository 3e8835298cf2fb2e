package redisdb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/edusmart/core"
)

// Open connects to the configured Redis server and waits for it to answer.
func Open(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ping waits for redis to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, client *redis.Client) error {
	var err error
	maxAttempts := 20
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "redis ping")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "redis ping timeout")
}

// Key joins a key prefix and parts with ":".
func Key(prefix string, parts ...string) string {
	key := prefix
	for _, p := range parts {
		if key == "" {
			key = p
		} else {
			key += ":" + p
		}
	}
	return key
}
