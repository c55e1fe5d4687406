package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const debouncePrefix = "tap:debounce:"

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Claim marks key as seen for ttl. It returns false when the key was already
// claimed inside the window.
func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, debouncePrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

// Release drops a claim so the next tap of key is accepted.
func (r *Redis) Release(ctx context.Context, key string) error {
	return r.Client.Del(ctx, debouncePrefix+key).Err()
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
