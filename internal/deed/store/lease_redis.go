package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "titledeed:issuance:"

// ErrLeaseHeld means another instance is issuing for the same application.
var ErrLeaseHeld = errors.New("issuance lease held by another instance")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease serializes issuance per application across service instances.
type RedisLease struct {
	client *redis.Client
}

func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

// Acquire takes the lease for key with SET NX PX. The returned release is a
// compare-and-delete, so an expired lease re-taken by someone else is left alone.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	fullKey := leaseKeyPrefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("release lease: %w", err)
		}
		return nil
	}, nil
}
