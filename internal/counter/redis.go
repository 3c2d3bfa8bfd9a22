package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultOpTimeout bounds every store round trip so a stalled Redis
// surfaces as ErrUnavailable instead of hanging the request.
const defaultOpTimeout = 2 * time.Second

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore constructs a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, errPing)
	}
	return &RedisStore{client: client, opTimeout: defaultOpTimeout}, nil
}

// NewRedisStoreFromClient wraps an existing client. Tests use this with
// a mock server.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, opTimeout: defaultOpTimeout}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Incr atomically increments key.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	value, err := s.client.Incr(ctxOp, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

// decrIfExists decrements only a live key. A compensating decrement
// that races the key's TTL expiry must not recreate it at -1 with no
// TTL.
var decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Decr atomically decrements key if it still exists.
func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	value, err := decrIfExists.Run(ctxOp, s.client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: decr %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

// Get returns the current counter value.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	value, err := s.client.Get(ctxOp, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return value, true, nil
}

// ExpireIfUnset sets a TTL only when the key has none (EXPIRE ... NX).
func (s *RedisStore) ExpireIfUnset(ctx context.Context, key string, ttl time.Duration) error {
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.ExpireNX(ctxOp, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: expire %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Keys enumerates keys under prefix with SCAN.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrUnavailable, prefix, err)
	}
	return keys, nil
}

// Del removes keys and returns how many existed.
func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	removed, err := s.client.Del(ctxOp, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: del: %v", ErrUnavailable, err)
	}
	return removed, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctxOp, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Ping(ctxOp).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client connection.
func (s *RedisStore) Close() error { return s.client.Close() }
