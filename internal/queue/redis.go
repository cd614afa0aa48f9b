package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/domain"
)

const (
	pendingKey  = "jobs:pending"
	claimedKey  = "jobs:claimed"
	leasePrefix = "jobs:lease:"
)

// claimScript moves the oldest pending id to the claimed list and sets its
// lease in one atomic step, so no other client can ever observe a claimed id
// without a live lease.
var claimScript = redis.NewScript(`
local id = redis.call("LMOVE", KEYS[1], KEYS[2], "RIGHT", "LEFT")
if not id then
  return false
end
redis.call("SET", KEYS[3] .. id, "1", "PX", ARGV[1])
return id
`)

// reclaimScript requeues one claimed id whose lease has lapsed. The lease
// check and the list move run atomically, so concurrent reclaimers cannot
// both requeue the same id and a freshly claimed id cannot be stolen.
var reclaimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
local removed = redis.call("LREM", KEYS[1], 0, ARGV[1])
if removed > 0 then
  redis.call("RPUSH", KEYS[2], ARGV[1])
end
return removed
`)

// RedisQueue is a durable Queue on a Redis list pair. Pending job ids live in
// jobs:pending; a claim moves the id to jobs:claimed and sets a lease key with
// a TTL. Ids on the claimed list without a live lease key belong to crashed or
// stalled workers and are moved back to pending before each dequeue.
type RedisQueue struct {
	client       *redis.Client
	lease        time.Duration
	pollInterval time.Duration
}

// NewRedisQueue creates a queue on the given client. lease bounds how long a
// claim survives without renewal.
func NewRedisQueue(client *redis.Client, lease time.Duration) *RedisQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	return &RedisQueue{
		client:       client,
		lease:        lease,
		pollInterval: 250 * time.Millisecond,
	}
}

// Enqueue pushes the job id onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, pendingKey, jobID).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue claims the oldest pending job. It polls rather than blocking
// server-side so cancellation takes effect promptly on shutdown.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	keys := []string{pendingKey, claimedKey, leasePrefix}
	for {
		if err := q.reclaimExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return "", err
		}
		jobID, err := claimScript.Run(ctx, q.client, keys, q.lease.Milliseconds()).Text()
		switch {
		case err == nil:
			return jobID, nil
		case errors.Is(err, redis.Nil):
			// empty queue, wait for the next tick
		default:
			return "", fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// RenewLease extends the claim by the configured lease duration.
func (q *RedisQueue) RenewLease(ctx context.Context, jobID string) error {
	ok, err := q.client.Expire(ctx, leasePrefix+jobID, q.lease).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	if !ok {
		return domain.ErrStateConflict
	}
	return nil
}

// ReleaseLease abandons the claim and returns the job to the pending list for
// redelivery.
func (q *RedisQueue) ReleaseLease(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, claimedKey, 0, jobID)
	pipe.RPush(ctx, pendingKey, jobID)
	pipe.Del(ctx, leasePrefix+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Complete drops the claim and forgets the job.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, claimedKey, 0, jobID)
	pipe.Del(ctx, leasePrefix+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// reclaimExpired moves claimed ids whose lease key has expired back to the
// pending list. RPUSH keeps redelivered jobs at the front of the claim order.
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	ids, err := q.client.LRange(ctx, claimedKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	for _, jobID := range ids {
		keys := []string{claimedKey, pendingKey, leasePrefix + jobID}
		if err := reclaimScript.Run(ctx, q.client, keys, jobID).Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
		}
	}
	return nil
}
