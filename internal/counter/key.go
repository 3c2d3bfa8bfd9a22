package counter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/router-for-me/ChatQuota/internal/policy"
)

// Key layout, one counter per (period bucket, scope):
//
//	<prefix>:daily:<bucket>:p:<id>          private
//	<prefix>:daily:<bucket>:g:<gid>:all     group shared
//	<prefix>:daily:<bucket>:g:<gid>:u:<id>  group individual
//	<prefix>:window:<date>:w<idx>:<tail>    window counter, same tail
//
// Window counters carry the activation date (the calendar date the
// window opened), not the daily bucket: an overnight window keeps one
// counter across midnight and relies on its end-of-window TTL.
// Identifiers are query-escaped so opaque IDs containing ':' can never
// alias another scope.

func escapeID(id string) string { return url.QueryEscape(id) }

func unescapeID(id string) string {
	unescaped, err := url.QueryUnescape(id)
	if err != nil {
		return id
	}
	return unescaped
}

func scopeTail(s policy.Scope) string {
	switch s.Kind {
	case policy.KindGroupShared:
		return "g:" + escapeID(s.Group) + ":all"
	case policy.KindGroupIndividual:
		return "g:" + escapeID(s.Group) + ":u:" + escapeID(s.Identity)
	default:
		return "p:" + escapeID(s.Identity)
	}
}

// DailyKey builds the daily counter key for a scope in a period bucket.
func DailyKey(prefix, bucket string, s policy.Scope) string {
	return prefix + ":daily:" + bucket + ":" + scopeTail(s)
}

// WindowKey builds the window counter key for a scope. Window counters
// are independent of the daily counter; idx is the window's position in
// the configured list and date is the activation date.
func WindowKey(prefix, date string, idx int, s policy.Scope) string {
	return prefix + ":window:" + date + ":w" + strconv.Itoa(idx) + ":" + scopeTail(s)
}

// DailyPrefix is the enumeration prefix for all daily counters in a
// period bucket.
func DailyPrefix(prefix, bucket string) string {
	return prefix + ":daily:" + bucket + ":"
}

// WindowRoot is the enumeration prefix for all live window counters.
// Window keys are never enumerated per bucket: their end-of-window TTL
// means any live window key belongs to a current activation.
func WindowRoot(prefix string) string {
	return prefix + ":window:"
}

// ParseDailyKey recovers the scope from a daily counter key. Reporting
// and administrative resets use it to classify enumerated keys.
func ParseDailyKey(prefix, bucket, key string) (policy.Scope, error) {
	tail, ok := strings.CutPrefix(key, DailyPrefix(prefix, bucket))
	if !ok {
		return policy.Scope{}, fmt.Errorf("key %q outside bucket %s", key, bucket)
	}
	return parseTail(tail, key)
}

// ParseWindowKey recovers the scope from a window counter key,
// whatever activation date it carries.
func ParseWindowKey(prefix, key string) (policy.Scope, error) {
	tail, ok := strings.CutPrefix(key, WindowRoot(prefix))
	if !ok {
		return policy.Scope{}, fmt.Errorf("key %q outside prefix %s", key, prefix)
	}
	date, rest, found := strings.Cut(tail, ":")
	if !found || len(date) != len(bucketLayout) {
		return policy.Scope{}, fmt.Errorf("malformed window key %q", key)
	}
	idx := strings.IndexByte(rest, ':')
	if idx < 0 || !strings.HasPrefix(rest, "w") {
		return policy.Scope{}, fmt.Errorf("malformed window key %q", key)
	}
	return parseTail(rest[idx+1:], key)
}

func parseTail(tail, key string) (policy.Scope, error) {
	parts := strings.Split(tail, ":")
	switch {
	case len(parts) == 2 && parts[0] == "p":
		return policy.PrivateScope(unescapeID(parts[1])), nil
	case len(parts) == 3 && parts[0] == "g" && parts[2] == "all":
		return policy.GroupSharedScope(unescapeID(parts[1])), nil
	case len(parts) == 4 && parts[0] == "g" && parts[2] == "u":
		return policy.GroupIndividualScope(unescapeID(parts[1]), unescapeID(parts[3])), nil
	default:
		return policy.Scope{}, fmt.Errorf("malformed counter key %q", key)
	}
}
