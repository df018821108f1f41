package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-pairbot/internal/domain"
)

// NewFromConfig выбирает брокер очереди по конфигурации.
func NewFromConfig(backend string, redisClient *redis.Client, rabbitURL, key string) (domain.PairingQueue, error) {
	switch backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("очередь redis: не указан адрес Redis (REDIS_ADDR)")
		}
		return NewRedisPairingQueue(redisClient, key), nil
	case "rabbit":
		if rabbitURL == "" {
			return nil, fmt.Errorf("очередь rabbit: не указан адрес RabbitMQ (RABBIT_URL)")
		}
		return NewRabbitPairingQueue(rabbitURL, key)
	default:
		return nil, fmt.Errorf("неизвестный брокер очереди: %q", backend)
	}
}
