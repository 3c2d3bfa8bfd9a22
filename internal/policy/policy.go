package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limit is the effective quota limit for a request: either unlimited or
// a non-negative count per reset period.
type Limit struct {
	unlimited bool
	n         int
}

// Unlimited returns a Limit that never denies.
func Unlimited() Limit { return Limit{unlimited: true} }

// Limited returns a Limit of n requests per period. Negative values
// clamp to zero.
func Limited(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// IsUnlimited reports whether the limit never denies.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// N returns the per-period count. Zero when unlimited.
func (l Limit) N() int {
	if l.unlimited {
		return 0
	}
	return l.n
}

// String renders the limit for logs and API responses.
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

// Mode selects how a group consumes quota.
type Mode string

const (
	// ModeShared pools all group members onto one counter.
	ModeShared Mode = "shared"
	// ModeIndividual gives each member an independent counter.
	ModeIndividual Mode = "individual"
)

// ParseMode validates a group mode string. Empty means shared.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(raw))) {
	case "", ModeShared:
		return ModeShared, nil
	case ModeIndividual:
		return ModeIndividual, nil
	default:
		return "", fmt.Errorf("unknown group mode %q", raw)
	}
}

// ScopeKind names the unit a counter is maintained against.
type ScopeKind int

const (
	// KindPrivate scopes a counter to one identity outside any group.
	KindPrivate ScopeKind = iota
	// KindGroupShared scopes one counter to a whole group.
	KindGroupShared
	// KindGroupIndividual scopes a counter to one identity inside a group.
	KindGroupIndividual
)

// Scope identifies the counter a request consumes from.
type Scope struct {
	Kind     ScopeKind
	Group    string
	Identity string
}

// PrivateScope builds the scope for a request outside any group.
func PrivateScope(identity string) Scope {
	return Scope{Kind: KindPrivate, Identity: identity}
}

// GroupSharedScope builds the pooled scope for a group.
func GroupSharedScope(group string) Scope {
	return Scope{Kind: KindGroupShared, Group: group}
}

// GroupIndividualScope builds the per-member scope within a group.
func GroupIndividualScope(group, identity string) Scope {
	return Scope{Kind: KindGroupIndividual, Group: group, Identity: identity}
}

// ScopeFor selects the counter scope for a request. Private requests
// always get a private scope; group requests follow the group mode.
func ScopeFor(identity, group string, mode Mode) Scope {
	if strings.TrimSpace(group) == "" {
		return PrivateScope(identity)
	}
	if mode == ModeIndividual {
		return GroupIndividualScope(group, identity)
	}
	return GroupSharedScope(group)
}

// DayFilter restricts a time window to part of the week.
type DayFilter string

const (
	// DaysAll applies the window every day.
	DaysAll DayFilter = ""
	// DaysWeekday applies the window Monday through Friday.
	DaysWeekday DayFilter = "weekday"
	// DaysWeekend applies the window Saturday and Sunday.
	DaysWeekend DayFilter = "weekend"
)

// ParseDayFilter validates a day filter string.
func ParseDayFilter(raw string) (DayFilter, error) {
	switch DayFilter(strings.TrimSpace(strings.ToLower(raw))) {
	case DaysAll:
		return DaysAll, nil
	case DaysWeekday:
		return DaysWeekday, nil
	case DaysWeekend:
		return DaysWeekend, nil
	default:
		return "", fmt.Errorf("unknown day filter %q", raw)
	}
}

// matches reports whether the filter admits the given weekday.
func (f DayFilter) matches(day time.Weekday) bool {
	switch f {
	case DaysWeekday:
		return day != time.Saturday && day != time.Sunday
	case DaysWeekend:
		return day == time.Saturday || day == time.Sunday
	default:
		return true
	}
}

// TimeWindow is a time-of-day interval carrying its own limit. A window
// whose start is later than its end wraps past midnight.
type TimeWindow struct {
	Start   string
	End     string
	Limit   int
	Enabled bool
	Days    DayFilter

	startMin int
	endMin   int
}

// NewTimeWindow parses and validates a window definition. Malformed
// times are rejected here so resolution never fails.
func NewTimeWindow(start, end string, limit int, enabled bool, days DayFilter) (TimeWindow, error) {
	startMin, errStart := parseClock(start)
	if errStart != nil {
		return TimeWindow{}, fmt.Errorf("window start: %w", errStart)
	}
	endMin, errEnd := parseClock(end)
	if errEnd != nil {
		return TimeWindow{}, fmt.Errorf("window end: %w", errEnd)
	}
	if limit < 0 {
		return TimeWindow{}, fmt.Errorf("window limit must be >= 0, got %d", limit)
	}
	return TimeWindow{
		Start:    start,
		End:      end,
		Limit:    limit,
		Enabled:  enabled,
		Days:     days,
		startMin: startMin,
		endMin:   endMin,
	}, nil
}

// Contains reports whether now falls inside the window, honoring the
// overnight wrap and the day filter.
func (w TimeWindow) Contains(now time.Time) bool {
	if !w.Days.matches(now.Weekday()) {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if w.startMin <= w.endMin {
		return minute >= w.startMin && minute < w.endMin
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= w.startMin || minute < w.endMin
}

// EndClock returns the window end as minutes after midnight.
func (w TimeWindow) EndClock() int { return w.endMin }

// Wraps reports whether the window crosses midnight.
func (w TimeWindow) Wraps() bool { return w.startMin > w.endMin }

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock time %q", raw)
	}
	hour, errHour := strconv.Atoi(parts[0])
	if errHour != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed clock time %q", raw)
	}
	minute, errMinute := strconv.Atoi(parts[1])
	if errMinute != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed clock time %q", raw)
	}
	return hour*60 + minute, nil
}

// Policy is an immutable snapshot of the layered limit configuration.
// Mutation happens in the config store, which publishes a fresh Policy.
type Policy struct {
	Exempt       map[string]struct{}
	Windows      []TimeWindow
	UserLimits   map[string]int
	GroupLimits  map[string]int
	GroupModes   map[string]Mode
	DefaultLimit int
}

// ModeOf returns the configured mode for a group, defaulting to shared.
func (p *Policy) ModeOf(group string) Mode {
	if p == nil {
		return ModeShared
	}
	if mode, ok := p.GroupModes[group]; ok {
		return mode
	}
	return ModeShared
}
