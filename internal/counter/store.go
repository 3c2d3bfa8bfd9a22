// Package counter adapts a shared atomic key-value store to the needs
// of the quota engine: atomic increment/decrement, expiry that is set
// only once per period, and prefix enumeration for reporting.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the shared counter store cannot be reached.
// Enforcement fails closed when it surfaces.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the contract the quota engine requires from a shared
// counter store. All operations are atomic with respect to concurrent
// callers, including callers in other processes.
type Store interface {
	// Incr atomically increments key and returns the new value. The
	// key is created at zero on first increment.
	Incr(ctx context.Context, key string) (int64, error)
	// Decr atomically decrements key and returns the new value. A
	// missing key stays absent and reports zero, so a compensating
	// decrement racing the key's expiry cannot resurrect it. Used only
	// as compensation after an over-limit increment.
	Decr(ctx context.Context, key string) (int64, error)
	// Get returns the current value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)
	// ExpireIfUnset sets a TTL only when the key has none, so repeat
	// calls never refresh the reset clock.
	ExpireIfUnset(ctx context.Context, key string, ttl time.Duration) error
	// Keys enumerates keys under prefix. Reporting only, never on the
	// enforcement path.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}
