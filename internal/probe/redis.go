package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis verifies a Redis server with a full SET/GET/DEL round-trip of a
// throwaway key, not just a PING: a server that accepts connections but
// cannot serve writes (loading, read-only replica) is not ready.
type Redis struct {
	src      SettingsSource
	fallback map[string]string
}

// NewRedis builds the cache prober. src may be nil; see NewPostgres.
func NewRedis(src SettingsSource, fallback map[string]string) *Redis {
	return &Redis{src: src, fallback: fallback}
}

func (r *Redis) Kind() string { return KindRedis }

func (r *Redis) Check(ctx context.Context) error {
	s, err := resolve(ctx, r.src, KindRedis, r.fallback)
	if err != nil {
		return fmt.Errorf("resolving redis settings: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(
			setting(s, "REDIS_HOST", "localhost"),
			setting(s, "REDIS_PORT", "6379"),
		),
		Password:   setting(s, "REDIS_PASSWORD", ""),
		DB:         0,
		MaxRetries: -1, // one attempt per Check; the waiter retries
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return classifyRedis(err)
	}

	key := "health-check-key-" + uuid.NewString()
	value := "health-check-value-" + uuid.NewString()

	if err := client.Set(ctx, key, value, time.Minute).Err(); err != nil {
		return classifyRedis(err)
	}
	got, err := client.Get(ctx, key).Result()
	if err != nil {
		return classifyRedis(err)
	}
	if delErr := client.Del(ctx, key).Err(); delErr != nil {
		return classifyRedis(delErr)
	}
	if got != value {
		return fmt.Errorf("redis round-trip mismatch for %s", key)
	}
	return nil
}

// classifyRedis recognises the server's auth replies, which surface as
// plain error strings rather than typed errors.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "WRONGPASS") || strings.Contains(msg, "invalid password") {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return classify(err)
}
