package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// readyKey holds ready tasks (list, pushed left, popped right).
	readyKey = "courier:dispatch:ready"

	// delayedKey holds delayed tasks (sorted set scored by due unix millis).
	delayedKey = "courier:dispatch:delayed"

	// blockTimeout bounds each BRPOP so delayed tasks get promoted
	// even when the ready list stays empty.
	blockTimeout = time.Second

	// promoteBatch caps how many delayed tasks are promoted per pass.
	promoteBatch = 100
)

// RedisQueue is a Redis-backed work queue shared by all replicas.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Enqueue pushes a task onto the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey, data).Err(); err != nil {
		return fmt.Errorf("pushing task: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is available or ctx is cancelled. Each pass
// first promotes due delayed tasks onto the ready list.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		if err := q.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return Task{}, err
		}

		res, err := q.rdb.BRPop(ctx, blockTimeout, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("popping task: %w", err)
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return Task{}, fmt.Errorf("decoding task: %w", err)
		}
		return task, nil
	}
}

// RequeueAfter stores the task in the delayed set, scored by its due time.
func (q *RedisQueue) RequeueAfter(ctx context.Context, task Task, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: data}).Err(); err != nil {
		return fmt.Errorf("scheduling delayed task: %w", err)
	}
	return nil
}

// promoteDue moves delayed tasks whose due time has passed onto the ready
// list. ZRem before LPush keeps a task from being promoted twice when
// multiple workers promote concurrently.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scanning delayed tasks: %w", err)
	}

	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return fmt.Errorf("removing delayed task: %w", err)
		}
		if removed == 0 {
			continue // another replica promoted it
		}
		if err := q.rdb.LPush(ctx, readyKey, m).Err(); err != nil {
			return fmt.Errorf("promoting delayed task: %w", err)
		}
	}
	return nil
}
