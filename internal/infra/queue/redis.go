package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// RedisPairingQueue реализует очередь задач подбора на базе Redis lists.
type RedisPairingQueue struct {
	client *redis.Client
	key    string
}

// NewRedisPairingQueue создаёт очередь по указанному ключу.
func NewRedisPairingQueue(client *redis.Client, key string) *RedisPairingQueue {
	return &RedisPairingQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisPairingQueue) Enqueue(ctx context.Context, job domain.PairingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("queue", "enqueue", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение с ok=false
// возвращает задачу в очередь повторным LPush.
func (q *RedisPairingQueue) Receive(ctx context.Context) (domain.PairingJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PairingJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PairingJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PairingJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.PairingJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		var job domain.PairingJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return domain.PairingJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(ok bool) error {
			if ok {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return job, ack, nil
	}
}
