// Package store wraps the redis connection backing the durable enrollment
// submission queue.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the connection used by the redis queue backend.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts. Submissions are small and
// the queue is local; a slow redis should fail fast, not stall enrollment.
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

// PendingEnrollments reports how many submissions are waiting in the queue
// list. Surfaced on the health endpoint so a stuck worker shows up as a
// growing backlog.
func (r *Redis) PendingEnrollments(ctx context.Context, key string) (int64, error) {
	return r.Client.LLen(ctx, key).Result()
}

// Close releases the connection on shutdown.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
