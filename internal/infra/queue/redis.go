package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// RedisDigestQueue реализует очередь задач на базе Redis lists.
// Сообщение переносится в processing-список до подтверждения.
type RedisDigestQueue struct {
	client     *redis.Client
	key        string
	processing string
}

// NewRedisDigestQueue создаёт очередь по указанному ключу.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return domain.DigestJob{}, nil, ctx.Err()
			}
			return domain.DigestJob{}, nil, err
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, raw).Err()
			return domain.DigestJob{}, nil, err
		}
		ack := func(success bool) error {
			ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pipe := q.client.TxPipeline()
			pipe.LRem(ackCtx, q.processing, 1, raw)
			if !success {
				pipe.LPush(ackCtx, q.key, raw)
			}
			_, err := pipe.Exec(ackCtx)
			return err
		}
		return job, ack, nil
	}
}
