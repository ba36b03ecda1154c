package notify

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs against a real server when DMV_TEST_REDIS_ADDR is set.
func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("DMV_TEST_REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("DMV_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, RedisOptions{Addr: addr, ConnectTimeout: 5 * time.Second}, discard())
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	defer client.Close()

	l := NewRedisLedger(client, time.Minute)
	category, location := "test_category", t.Name()
	t.Cleanup(func() { _ = l.Reset(context.Background(), category, location) })

	if seen, err := l.Seen(ctx, category, location, "u1", "fp"); err != nil || seen {
		t.Fatalf("Seen() on empty ledger = %v, %v", seen, err)
	}
	if err := l.Remember(ctx, category, location, "u1", "fp"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if seen, err := l.Seen(ctx, category, location, "u1", "fp"); err != nil || !seen {
		t.Fatalf("Seen() after Remember = %v, %v", seen, err)
	}
	ttl, err := client.TTL(ctx, DedupeKey(category, location)).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("TTL = %v, %v; want a positive expiry", ttl, err)
	}
	if err := l.Reset(ctx, category, location); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if seen, _ := l.Seen(ctx, category, location, "u1", "fp"); seen {
		t.Error("Seen() = true after Reset")
	}
}
