package policy

import "time"

// NoWindow marks a resolution that used no time window.
const NoWindow = -1

// Resolution is the outcome of resolving the layered policy for one
// request.
type Resolution struct {
	Limit Limit
	// Window is the index of the matching enabled time window, or
	// NoWindow when the daily counter governs the request.
	Window int
	Scope  Scope
}

// Resolve computes the effective limit for an identity in an optional
// group. Evaluation order is fixed: exempt identities win outright,
// then the first matching enabled time window in configured order,
// then the per-identity override, then the per-group override, then
// the global default. Reordering these layers changes observable
// behavior.
func Resolve(p *Policy, identity, group string, now time.Time) Resolution {
	scope := ScopeFor(identity, group, p.ModeOf(group))
	if p == nil {
		return Resolution{Limit: Limited(0), Window: NoWindow, Scope: scope}
	}

	if _, ok := p.Exempt[identity]; ok {
		return Resolution{Limit: Unlimited(), Window: NoWindow, Scope: scope}
	}

	for i, window := range p.Windows {
		if !window.Enabled {
			continue
		}
		if window.Contains(now) {
			return Resolution{Limit: Limited(window.Limit), Window: i, Scope: scope}
		}
	}

	if limit, ok := p.UserLimits[identity]; ok {
		return Resolution{Limit: Limited(limit), Window: NoWindow, Scope: scope}
	}

	if group != "" {
		if limit, ok := p.GroupLimits[group]; ok {
			return Resolution{Limit: Limited(limit), Window: NoWindow, Scope: scope}
		}
	}

	return Resolution{Limit: Limited(p.DefaultLimit), Window: NoWindow, Scope: scope}
}
