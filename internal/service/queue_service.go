package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	EnqueueAt(ctx context.Context, jobID string, at time.Time) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	PromoteDue(ctx context.Context, now time.Time, max int64) (int64, error)
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

type Keys struct {
	ReadyKey      string
	ProcessingKey string
	DelayedKey    string
}

// redisExportQueue implements a reliable queue on Redis.
// Ready jobs live in a list; claim is BRPOPLPUSH ready -> processing and ack
// removes from processing. Jobs with a future run time (retry backoff,
// schedule) sit in a sorted set scored by their due instant until the
// promoter moves them to the ready list.
type redisExportQueue struct {
	rdb  *redis.Client
	keys Keys
}

func NewRedisExportQueue(rdb *redis.Client, keys Keys) Queue {
	return &redisExportQueue{rdb: rdb, keys: keys}
}

func (q *redisExportQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.keys.ReadyKey, jobID).Err()
}

func (q *redisExportQueue) EnqueueAt(ctx context.Context, jobID string, at time.Time) error {
	if !at.After(time.Now()) {
		return q.Enqueue(ctx, jobID)
	}
	return q.rdb.ZAdd(ctx, q.keys.DelayedKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: jobID,
	}).Err()
}

// ClaimBlocking waits up to timeout for a ready job. Callers treat redis.Nil
// as "nothing to do".
func (q *redisExportQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	return q.rdb.BRPopLPush(ctx, q.keys.ReadyKey, q.keys.ProcessingKey, timeout).Result()
}

func (q *redisExportQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.keys.ProcessingKey, 1, jobID).Err()
}

// PromoteDue moves delayed jobs whose due time has passed onto the ready list.
func (q *redisExportQueue) PromoteDue(ctx context.Context, now time.Time, max int64) (int64, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.DelayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: max,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.keys.DelayedKey, id)
		pipe.LPush(ctx, q.keys.ReadyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// RequeueStale moves items from processing back to ready. A simple reaper for
// crashed workers: at-least-once delivery, the store's claim guard makes a
// re-presented id harmless.
func (q *redisExportQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		id, err := q.rdb.RPopLPush(ctx, q.keys.ProcessingKey, q.keys.ReadyKey).Result()
		if err != nil {
			if err == redis.Nil {
				break
			}
			return moved, err
		}
		if id != "" {
			moved++
		}
	}
	return moved, nil
}
