package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"my-feed-bot/internal/domain"
)

// Бэкенды очереди сводок.
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Open создаёт очередь сводок выбранного бэкенда. Возвращаемая функция
// закрывает соединение с брокером.
func Open(backend string, client *redis.Client, rabbitURL, key string) (domain.DigestQueue, func() error, error) {
	switch backend {
	case "", BackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("очередь %s: не задан REDIS_ADDR", BackendRedis)
		}
		return NewRedisDigestQueue(client, key), func() error { return nil }, nil
	case BackendRabbitMQ:
		q, err := NewRabbitDigestQueue(rabbitURL, key)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", backend)
	}
}
