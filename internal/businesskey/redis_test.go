package businesskey

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestRedisSequencer_Next(t *testing.T) {
	seq := NewRedisSequencer(newTestRedis(t), "prosa:seq:")

	for want := int64(1); want <= 3; want++ {
		got, err := seq.Next(context.Background(), "REQ")
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if got != want {
			t.Errorf("Next = %d, want %d", got, want)
		}
	}
}

func TestRedisSequencer_perPrefixCounters(t *testing.T) {
	seq := NewRedisSequencer(newTestRedis(t), "prosa:seq:")

	a, _ := seq.Next(context.Background(), "REQ")
	b, _ := seq.Next(context.Background(), "PO")
	if a != 1 || b != 1 {
		t.Errorf("sequences = %d %d, want 1 1", a, b)
	}
}

func TestRedisSequencer_defaultKeyPrefix(t *testing.T) {
	client := newTestRedis(t)
	seq := NewRedisSequencer(client, "")

	if _, err := seq.Next(context.Background(), "REQ"); err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if err := client.Get(context.Background(), "prosa:seq:REQ").Err(); err != nil {
		t.Errorf("expected counter under default prefix: %v", err)
	}
}

func TestRedisSequencer_HealthCheck(t *testing.T) {
	seq := NewRedisSequencer(newTestRedis(t), "")
	if err := seq.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
}
