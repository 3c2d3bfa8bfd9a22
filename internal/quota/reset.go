package quota

import (
	"context"

	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/policy"
)

// ResetAll removes every counter in the current period, daily and
// window alike, and returns how many records were removed. Resetting
// with zero consumption is a no-op reported as 0.
func (e *Engine) ResetAll(ctx context.Context) (int64, error) {
	snap := e.provider()
	bucket := counter.Bucket(e.nowFn(), snap.ResetHour)

	keys, errKeys := e.bucketKeys(ctx, snap.KeyPrefix, bucket)
	if errKeys != nil {
		return 0, errKeys
	}
	return e.store.Del(ctx, keys...)
}

// ResetIdentity removes the current-period counters owned by one
// identity: its private counter and its per-member counters in every
// group. Shared group counters are left alone.
func (e *Engine) ResetIdentity(ctx context.Context, identity string) (int64, error) {
	return e.resetMatching(ctx, func(s policy.Scope) bool {
		return s.Kind != policy.KindGroupShared && s.Identity == identity
	})
}

// ResetGroup removes the current-period counters of one group: the
// shared counter and every per-member counter within it.
func (e *Engine) ResetGroup(ctx context.Context, group string) (int64, error) {
	return e.resetMatching(ctx, func(s policy.Scope) bool {
		return s.Group == group
	})
}

func (e *Engine) resetMatching(ctx context.Context, match func(policy.Scope) bool) (int64, error) {
	snap := e.provider()
	bucket := counter.Bucket(e.nowFn(), snap.ResetHour)

	var doomed []string

	dailyKeys, errDaily := e.store.Keys(ctx, counter.DailyPrefix(snap.KeyPrefix, bucket))
	if errDaily != nil {
		return 0, errDaily
	}
	for _, key := range dailyKeys {
		scope, errParse := counter.ParseDailyKey(snap.KeyPrefix, bucket, key)
		if errParse != nil {
			continue
		}
		if match(scope) {
			doomed = append(doomed, key)
		}
	}

	// Window keys self-expire at window end, so every live one belongs
	// to a current activation regardless of the date it carries.
	windowKeys, errWindow := e.store.Keys(ctx, counter.WindowRoot(snap.KeyPrefix))
	if errWindow != nil {
		return 0, errWindow
	}
	for _, key := range windowKeys {
		scope, errParse := counter.ParseWindowKey(snap.KeyPrefix, key)
		if errParse != nil {
			continue
		}
		if match(scope) {
			doomed = append(doomed, key)
		}
	}

	return e.store.Del(ctx, doomed...)
}

func (e *Engine) bucketKeys(ctx context.Context, prefix, bucket string) ([]string, error) {
	dailyKeys, errDaily := e.store.Keys(ctx, counter.DailyPrefix(prefix, bucket))
	if errDaily != nil {
		return nil, errDaily
	}
	windowKeys, errWindow := e.store.Keys(ctx, counter.WindowRoot(prefix))
	if errWindow != nil {
		return nil, errWindow
	}
	return append(dailyKeys, windowKeys...), nil
}
