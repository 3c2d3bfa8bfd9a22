// Package quota orchestrates policy resolution and the shared counter
// store into a race-safe admission decision for each inbound request.
package quota

import (
	"context"
	"strings"
	"time"

	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/policy"

	log "github.com/sirupsen/logrus"
)

// Verdict classifies an admission decision.
type Verdict int

const (
	// VerdictDenied means the quota is exhausted; no net unit consumed.
	VerdictDenied Verdict = iota
	// VerdictAllowed means one unit was consumed.
	VerdictAllowed
	// VerdictExempt means the identity is unlimited; no store access.
	VerdictExempt
)

// Decision is the outcome of a check-and-consume call.
type Decision struct {
	Verdict   Verdict
	Limit     int
	Remaining int
	// Remind flags a low-quota reminder for the caller to surface. It
	// fires when the post-consumption remaining count is 1, 3, or 5.
	Remind bool
	// Shared reports whether a pooled group counter was consumed.
	Shared bool
}

// Snapshot bundles the live configuration the engine reads per call.
type Snapshot struct {
	Policy    *policy.Policy
	KeyPrefix string
	ResetHour int
}

// SnapshotProvider supplies the latest configuration snapshot.
type SnapshotProvider func() Snapshot

// Engine answers "is this request allowed, and what remains" with the
// consumption side effect. All cross-request coordination goes through
// the counter store's atomic primitives; the engine holds no lock of
// its own, so multiple instances may run in different processes.
type Engine struct {
	store    counter.Store
	provider SnapshotProvider
	nowFn    func() time.Time
}

// NewEngine constructs an Engine with default dependencies when nil.
func NewEngine(store counter.Store, provider SnapshotProvider, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{store: store, provider: provider, nowFn: nowFn}
}

// CheckAndConsume resolves the effective limit and atomically consumes
// one unit from the governing counter.
//
// The admission decision uses increment-then-compensate: the store's
// atomic increment strictly orders concurrent callers, so two requests
// can never both take the last slot. A request that lands over the
// limit issues a compensating decrement and is denied, which leaves
// the stored count transiently above the limit between the two steps.
// A store-side conditional increment would remove that transient; the
// reference behavior is kept as is.
//
// A store failure returns an error wrapping counter.ErrUnavailable and
// consumes nothing the caller can rely on: callers must fail closed.
func (e *Engine) CheckAndConsume(ctx context.Context, identity, group string) (Decision, error) {
	now := e.nowFn()
	snap := e.provider()
	res := policy.Resolve(snap.Policy, identity, strings.TrimSpace(group), now)

	if res.Limit.IsUnlimited() {
		return Decision{Verdict: VerdictExempt}, nil
	}

	key, ttl := e.counterFor(snap, res, now)
	limit := res.Limit.N()

	newCount, errIncr := e.store.Incr(ctx, key)
	if errIncr != nil {
		return Decision{}, errIncr
	}
	if newCount == 1 {
		if errExpire := e.store.ExpireIfUnset(ctx, key, ttl); errExpire != nil {
			// The unit is already consumed; the key will still vanish
			// with the bucket once a later first-of-period call lands.
			log.WithError(errExpire).Warn("quota: failed to arm counter expiry")
		}
	}

	if newCount > int64(limit) {
		if _, errDecr := e.store.Decr(ctx, key); errDecr != nil {
			log.WithError(errDecr).Warn("quota: compensation decrement failed")
		}
		return Decision{Verdict: VerdictDenied, Limit: limit}, nil
	}

	remaining := limit - int(newCount)
	return Decision{
		Verdict:   VerdictAllowed,
		Limit:     limit,
		Remaining: remaining,
		Remind:    remaining == 1 || remaining == 3 || remaining == 5,
		Shared:    res.Scope.Kind == policy.KindGroupShared,
	}, nil
}

// counterFor picks the governing counter key and its TTL. Exactly one
// of the window counter or the daily counter applies to a request.
// Window counters are keyed by activation date so an overnight window
// keeps one counter across midnight.
func (e *Engine) counterFor(snap Snapshot, res policy.Resolution, now time.Time) (string, time.Duration) {
	if res.Window != policy.NoWindow {
		window := snap.Policy.Windows[res.Window]
		return counter.WindowKey(snap.KeyPrefix, counter.ActivationDate(now, window), res.Window, res.Scope),
			counter.SecondsUntilWindowEnd(now, window)
	}
	bucket := counter.Bucket(now, snap.ResetHour)
	return counter.DailyKey(snap.KeyPrefix, bucket, res.Scope),
		counter.SecondsUntilReset(now, snap.ResetHour)
}

// Usage describes the read-only quota state for one identity/context.
type Usage struct {
	Unlimited bool
	Limit     int
	Used      int
	Remaining int
	Shared    bool
}

// Usage reports current consumption without side effects.
func (e *Engine) Usage(ctx context.Context, identity, group string) (Usage, error) {
	now := e.nowFn()
	snap := e.provider()
	res := policy.Resolve(snap.Policy, identity, strings.TrimSpace(group), now)
	if res.Limit.IsUnlimited() {
		return Usage{Unlimited: true}, nil
	}

	key, _ := e.counterFor(snap, res, now)
	used, _, errGet := e.store.Get(ctx, key)
	if errGet != nil {
		return Usage{}, errGet
	}
	limit := res.Limit.N()
	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Limit:     limit,
		Used:      int(used),
		Remaining: remaining,
		Shared:    res.Scope.Kind == policy.KindGroupShared,
	}, nil
}
