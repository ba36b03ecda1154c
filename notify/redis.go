package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/redis/go-redis/v9"
)

// KeyPrefixDedupe prefixes ledger hashes: one hash per category and
// location, field per user, value the last sent fingerprint.
const KeyPrefixDedupe = "dmv:dedupe:"

// DedupeKey returns the Redis key for a category and location.
func DedupeKey(categoryKey, location string) string {
	return KeyPrefixDedupe + categoryKey + ":" + location
}

// RedisOptions configure the shared ledger connection.
type RedisOptions struct {
	Addr           string
	Password       string
	DB             int
	ConnectTimeout time.Duration // total time allowed for connection attempts
	PingTimeout    time.Duration
}

// ConnectRedis opens a client and pings it until it answers or the connect
// timeout passes.
func ConnectRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*redis.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	logger.Info("Connecting to redis", "addr", opts.Addr, "timeout", opts.ConnectTimeout.String())
	start := time.Now()
	err := retry.Do(
		func() error {
			pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
			defer pingCancel()
			return client.Ping(pingCtx).Err()
		},
		retry.Attempts(0), // until ctx expires
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Redis connection failed, retrying", "addr", opts.Addr, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", opts.Addr, err)
	}
	logger.Info("Connected to redis", "addr", opts.Addr, "duration_ms", time.Since(start).Milliseconds())
	return client, nil
}

// RedisLedger is a Ledger shared between monitor instances.
type RedisLedger struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLedger creates a ledger whose pair hashes expire ttl after the
// last notification for that pair.
func NewRedisLedger(client redis.Cmdable, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Seen(ctx context.Context, categoryKey, location, userID, fingerprint string) (bool, error) {
	got, err := l.client.HGet(ctx, DedupeKey(categoryKey, location), userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read dedupe ledger: %w", err)
	}
	return got == fingerprint, nil
}

func (l *RedisLedger) Remember(ctx context.Context, categoryKey, location, userID, fingerprint string) error {
	key := DedupeKey(categoryKey, location)
	pipe := l.client.TxPipeline()
	pipe.HSet(ctx, key, userID, fingerprint)
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write dedupe ledger: %w", err)
	}
	return nil
}

func (l *RedisLedger) Reset(ctx context.Context, categoryKey, location string) error {
	if err := l.client.Del(ctx, DedupeKey(categoryKey, location)).Err(); err != nil {
		return fmt.Errorf("reset dedupe ledger: %w", err)
	}
	return nil
}
