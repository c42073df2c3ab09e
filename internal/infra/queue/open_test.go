package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestOpenRejectsMisconfiguration(t *testing.T) {
	cases := []struct {
		name    string
		backend string
		client  *redis.Client
		url     string
	}{
		{name: "redis without client", backend: BackendRedis},
		{name: "rabbit without url", backend: BackendRabbitMQ},
		{name: "unknown backend", backend: "kafka"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Open(tc.backend, tc.client, tc.url, "digest_jobs"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenRedisDefault(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	q, closeFn, err := Open("", client, "", "digest_jobs")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := q.(*RedisDigestQueue); !ok {
		t.Fatalf("unexpected queue %T", q)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
