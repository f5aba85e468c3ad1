package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lease elects a single active sweeper across replicas.
type Lease interface {
	// Acquire reports whether this process now holds the lease.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this process still holds it.
	Release(ctx context.Context) error
}

// releaseScript deletes the key only when it still holds our token, so a
// lease that expired and was taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease backed by SET NX PX.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedisLease creates a lease on key that expires after ttl.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweeper lease: %w", err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release sweeper lease: %w", err)
	}
	return nil
}
