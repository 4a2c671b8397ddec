// Package queue decouples capturing an enrollment from submitting it to the
// backend: submissions are enqueued instantly and a worker drains them, so a
// slow or briefly unreachable backend never blocks the capture flow.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Submission is one enrollment waiting to be posted to the backend.
type Submission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	USN  string `json:"usn"`
	// JPEG is the captured photo; JSON-encoded as base64.
	JPEG []byte `json:"jpeg"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, sub Submission) error
	Consume(ctx context.Context) (<-chan Submission, error)
}

// InMemory is a channel-backed queue; the default for a single-process agent.
type InMemory struct {
	ch chan Submission
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Submission, size)}
}

// Publish enqueues a submission.
func (q *InMemory) Publish(ctx context.Context, sub Submission) error {
	select {
	case q.ch <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for the submit worker.
func (q *InMemory) Consume(ctx context.Context) (<-chan Submission, error) {
	out := make(chan Submission)
	go func() {
		defer close(out)
		for {
			select {
			case sub := <-q.ch:
				select {
				case out <- sub:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue, for deployments where
// submissions must survive an agent restart.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "dashboard:enrollments"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a submission.
func (q *RedisQueue) Publish(ctx context.Context, sub Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume streams submissions using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Submission, error) {
	out := make(chan Submission)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var sub Submission
			if err := json.Unmarshal([]byte(res[1]), &sub); err != nil {
				continue
			}
			select {
			case out <- sub:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
