// Package report aggregates live counters, trend snapshots and usage
// history into the read-only views the dashboard serves.
package report

import (
	"context"
	"time"

	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/history"
	"github.com/router-for-me/ChatQuota/internal/policy"
	"github.com/router-for-me/ChatQuota/internal/quota"
	"github.com/router-for-me/ChatQuota/internal/trend"
)

// Period selects a trend range.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Days maps a period to its snapshot count. Unknown periods fall back
// to a week.
func (p Period) Days() int {
	switch p {
	case PeriodDay:
		return 7
	case PeriodMonth:
		return 90
	case PeriodWeek:
		return 28
	default:
		return 28
	}
}

// Stats is the aggregate usage view for one calendar date.
type Stats struct {
	Date          string `json:"date"`
	TotalRequests int    `json:"total_requests"`
	ActiveUsers   int    `json:"active_users"`
	ActiveGroups  int    `json:"active_groups"`
	Live          bool   `json:"live"`
}

// UserRow is one dashboard row for an identity with live consumption
// or a configured override.
type UserRow struct {
	Identity string `json:"identity"`
	Used     int    `json:"used"`
	Limit    string `json:"limit"`
	Exempt   bool   `json:"exempt"`
}

// GroupRow is one dashboard row for a group.
type GroupRow struct {
	Group string `json:"group"`
	Mode  string `json:"mode"`
	Used  int    `json:"used"`
	Limit string `json:"limit"`
}

// Reporter answers dashboard queries. All methods are read-only.
type Reporter struct {
	store    counter.Store
	trends   *trend.FileStore
	records  *history.Store
	provider quota.SnapshotProvider
	nowFn    func() time.Time
}

// NewReporter constructs a Reporter. records may be nil when history
// is disabled; Top then returns empty results.
func NewReporter(store counter.Store, trends *trend.FileStore, records *history.Store, provider quota.SnapshotProvider, nowFn func() time.Time) *Reporter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Reporter{store: store, trends: trends, records: records, provider: provider, nowFn: nowFn}
}

func (r *Reporter) todayBucket() string {
	snap := r.provider()
	return counter.Bucket(r.nowFn(), snap.ResetHour)
}

// UsageStats returns the aggregate stats for date. The current period
// is computed live from the counter store; past dates come from the
// trend snapshot (zero-valued when absent).
func (r *Reporter) UsageStats(ctx context.Context, date string) (Stats, error) {
	if date == "" || date == r.todayBucket() {
		return r.liveStats(ctx)
	}
	snapshot, ok, errLoad := r.trends.Load(date)
	if errLoad != nil {
		return Stats{}, errLoad
	}
	if !ok {
		return Stats{Date: date}, nil
	}
	return Stats{
		Date:          snapshot.Date,
		TotalRequests: snapshot.TotalRequests,
		ActiveUsers:   snapshot.ActiveUsers,
		ActiveGroups:  snapshot.ActiveGroups,
	}, nil
}

// liveStats scans the current bucket's daily counters. Window counters
// are excluded: a request governed by a window still shows up once in
// its window counter only, so totals count daily consumption.
func (r *Reporter) liveStats(ctx context.Context) (Stats, error) {
	snap := r.provider()
	bucket := counter.Bucket(r.nowFn(), snap.ResetHour)

	total := 0
	users := map[string]struct{}{}
	groups := map[string]struct{}{}

	scan := func(prefix string, parse func(key string) (policy.Scope, error)) error {
		keys, errKeys := r.store.Keys(ctx, prefix)
		if errKeys != nil {
			return errKeys
		}
		for _, key := range keys {
			scope, errParse := parse(key)
			if errParse != nil {
				continue
			}
			value, ok, errGet := r.store.Get(ctx, key)
			if errGet != nil {
				return errGet
			}
			if !ok {
				continue
			}
			total += int(value)
			if scope.Identity != "" {
				users[scope.Identity] = struct{}{}
			}
			if scope.Group != "" {
				groups[scope.Group] = struct{}{}
			}
		}
		return nil
	}

	if err := scan(counter.DailyPrefix(snap.KeyPrefix, bucket), func(key string) (policy.Scope, error) {
		return counter.ParseDailyKey(snap.KeyPrefix, bucket, key)
	}); err != nil {
		return Stats{}, err
	}
	if err := scan(counter.WindowRoot(snap.KeyPrefix), func(key string) (policy.Scope, error) {
		return counter.ParseWindowKey(snap.KeyPrefix, key)
	}); err != nil {
		return Stats{}, err
	}

	return Stats{
		Date:          bucket,
		TotalRequests: total,
		ActiveUsers:   len(users),
		ActiveGroups:  len(groups),
		Live:          true,
	}, nil
}

// Trend returns the snapshot series for a period, oldest first.
func (r *Reporter) Trend(_ context.Context, period Period) ([]trend.Snapshot, error) {
	return r.trends.LoadRange(period.Days())
}

// Users lists every identity with live consumption this period plus
// every configured identity (override or exemption), consumption first.
func (r *Reporter) Users(ctx context.Context) ([]UserRow, error) {
	snap := r.provider()
	bucket := counter.Bucket(r.nowFn(), snap.ResetHour)

	used := map[string]int{}
	keys, errKeys := r.store.Keys(ctx, counter.DailyPrefix(snap.KeyPrefix, bucket))
	if errKeys != nil {
		return nil, errKeys
	}
	for _, key := range keys {
		scope, errParse := counter.ParseDailyKey(snap.KeyPrefix, bucket, key)
		if errParse != nil || scope.Identity == "" {
			continue
		}
		value, ok, errGet := r.store.Get(ctx, key)
		if errGet != nil {
			return nil, errGet
		}
		if ok {
			used[scope.Identity] += int(value)
		}
	}

	seen := map[string]struct{}{}
	rows := make([]UserRow, 0, len(used))
	add := func(identity string) {
		if _, dup := seen[identity]; dup {
			return
		}
		seen[identity] = struct{}{}
		_, exempt := snap.Policy.Exempt[identity]
		limit := policy.Limited(snap.Policy.DefaultLimit)
		if exempt {
			limit = policy.Unlimited()
		} else if override, ok := snap.Policy.UserLimits[identity]; ok {
			limit = policy.Limited(override)
		}
		rows = append(rows, UserRow{
			Identity: identity,
			Used:     used[identity],
			Limit:    limit.String(),
			Exempt:   exempt,
		})
	}
	for identity := range used {
		add(identity)
	}
	for identity := range snap.Policy.UserLimits {
		add(identity)
	}
	for identity := range snap.Policy.Exempt {
		add(identity)
	}
	return rows, nil
}

// Groups lists every group with live consumption plus every configured
// group. Shared groups report the pooled counter; individual groups
// report the member sum.
func (r *Reporter) Groups(ctx context.Context) ([]GroupRow, error) {
	snap := r.provider()
	bucket := counter.Bucket(r.nowFn(), snap.ResetHour)

	used := map[string]int{}
	keys, errKeys := r.store.Keys(ctx, counter.DailyPrefix(snap.KeyPrefix, bucket))
	if errKeys != nil {
		return nil, errKeys
	}
	for _, key := range keys {
		scope, errParse := counter.ParseDailyKey(snap.KeyPrefix, bucket, key)
		if errParse != nil || scope.Group == "" {
			continue
		}
		value, ok, errGet := r.store.Get(ctx, key)
		if errGet != nil {
			return nil, errGet
		}
		if ok {
			used[scope.Group] += int(value)
		}
	}

	seen := map[string]struct{}{}
	rows := make([]GroupRow, 0, len(used))
	add := func(group string) {
		if _, dup := seen[group]; dup {
			return
		}
		seen[group] = struct{}{}
		limit := policy.Limited(snap.Policy.DefaultLimit)
		if override, ok := snap.Policy.GroupLimits[group]; ok {
			limit = policy.Limited(override)
		}
		rows = append(rows, GroupRow{
			Group: group,
			Mode:  string(snap.Policy.ModeOf(group)),
			Used:  used[group],
			Limit: limit.String(),
		})
	}
	for group := range used {
		add(group)
	}
	for group := range snap.Policy.GroupLimits {
		add(group)
	}
	for group := range snap.Policy.GroupModes {
		add(group)
	}
	return rows, nil
}

// Top returns the busiest identities for the current period from the
// usage history.
func (r *Reporter) Top(ctx context.Context, n int) ([]history.ConsumerCount, error) {
	if r.records == nil {
		return nil, nil
	}
	return r.records.TopConsumers(ctx, r.todayBucket(), n)
}

// IdentityHistory returns one identity's per-day consumption over the
// last days buckets, oldest first. Empty when history is disabled.
func (r *Reporter) IdentityHistory(ctx context.Context, identity string, days int) ([]history.DailyCount, error) {
	if r.records == nil {
		return []history.DailyCount{}, nil
	}
	counts, err := r.records.IdentityDaily(ctx, identity, days)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []history.DailyCount{}
	}
	return counts, nil
}
