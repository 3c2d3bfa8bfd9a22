package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/router-for-me/ChatQuota/internal/policy"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Store holds the live configuration and serializes mutations. Every
// mutation validates and compiles on a copy first, persists the file,
// and only then swaps the published snapshot, so readers never observe
// a partially applied or invalid policy.
type Store struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	pol     *policy.Policy
	version uint64
}

// NewStore loads the config file at path and publishes the first
// snapshot.
func NewStore(path string) (*Store, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return nil, errLoad
	}
	pol, errCompile := cfg.Compile()
	if errCompile != nil {
		return nil, errCompile
	}
	return &Store{path: path, cfg: cfg, pol: pol, version: 1}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Config returns a deep copy of the current configuration.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.cfg)
}

// Policy returns the current compiled policy snapshot. The snapshot is
// immutable; callers keep using it even while a mutation lands.
func (s *Store) Policy() *policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pol
}

// Version returns a counter that increments on every applied change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func cloneConfig(cfg *Config) *Config {
	data, errMarshal := yaml.Marshal(cfg)
	if errMarshal != nil {
		log.WithError(errMarshal).Error("config: clone marshal failed")
		clone := *cfg
		return &clone
	}
	var clone Config
	if errUnmarshal := yaml.Unmarshal(data, &clone); errUnmarshal != nil {
		log.WithError(errUnmarshal).Error("config: clone unmarshal failed")
		shallow := *cfg
		return &shallow
	}
	return &clone
}

// mutate applies fn to a copy of the config, validates and compiles the
// result, persists it, and swaps the published snapshot.
func (s *Store) mutate(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneConfig(s.cfg)
	if err := fn(next); err != nil {
		return err
	}
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}
	pol, errCompile := next.Compile()
	if errCompile != nil {
		return errCompile
	}
	if err := Save(s.path, next); err != nil {
		return err
	}
	s.cfg = next
	s.pol = pol
	s.version++
	return nil
}

// Reload re-reads the file and swaps the snapshot if it parses and
// validates. A broken file keeps the last good snapshot in place.
func (s *Store) Reload() error {
	cfg, errLoad := Load(s.path)
	if errLoad != nil {
		return errLoad
	}
	pol, errCompile := cfg.Compile()
	if errCompile != nil {
		return errCompile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.pol = pol
	s.version++
	return nil
}

// Replace swaps in a whole new configuration, typically from the
// dashboard's config editor.
func (s *Store) Replace(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil replacement")
	}
	return s.mutate(func(dst *Config) error {
		*dst = *cloneConfig(cfg)
		return nil
	})
}

// SetDefaultLimit updates the fallback daily limit.
func (s *Store) SetDefaultLimit(limit int) error {
	return s.mutate(func(cfg *Config) error {
		cfg.Limits.DefaultDailyLimit = limit
		return nil
	})
}

// SetUserLimit creates or updates a per-identity override.
func (s *Store) SetUserLimit(userID string, limit int) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &PolicyLoadError{Field: "limits.user-limits.user-id", Reason: "must not be empty"}
	}
	return s.mutate(func(cfg *Config) error {
		for i := range cfg.Limits.UserLimits {
			if cfg.Limits.UserLimits[i].UserID == userID {
				cfg.Limits.UserLimits[i].Limit = limit
				return nil
			}
		}
		cfg.Limits.UserLimits = append(cfg.Limits.UserLimits, UserLimit{UserID: userID, Limit: limit})
		return nil
	})
}

// ClearUserLimit removes a per-identity override. Clearing an absent
// override is a no-op.
func (s *Store) ClearUserLimit(userID string) error {
	return s.mutate(func(cfg *Config) error {
		kept := cfg.Limits.UserLimits[:0]
		for _, entry := range cfg.Limits.UserLimits {
			if entry.UserID != userID {
				kept = append(kept, entry)
			}
		}
		cfg.Limits.UserLimits = kept
		return nil
	})
}

// SetGroupLimit creates or updates a per-group override.
func (s *Store) SetGroupLimit(groupID string, limit int) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return &PolicyLoadError{Field: "limits.group-limits.group-id", Reason: "must not be empty"}
	}
	return s.mutate(func(cfg *Config) error {
		for i := range cfg.Limits.GroupLimits {
			if cfg.Limits.GroupLimits[i].GroupID == groupID {
				cfg.Limits.GroupLimits[i].Limit = limit
				return nil
			}
		}
		cfg.Limits.GroupLimits = append(cfg.Limits.GroupLimits, GroupLimit{GroupID: groupID, Limit: limit})
		return nil
	})
}

// ClearGroupLimit removes a per-group override.
func (s *Store) ClearGroupLimit(groupID string) error {
	return s.mutate(func(cfg *Config) error {
		kept := cfg.Limits.GroupLimits[:0]
		for _, entry := range cfg.Limits.GroupLimits {
			if entry.GroupID != groupID {
				kept = append(kept, entry)
			}
		}
		cfg.Limits.GroupLimits = kept
		return nil
	})
}

// SetGroupMode pins the counting mode for a group.
func (s *Store) SetGroupMode(groupID, mode string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return &PolicyLoadError{Field: "limits.group-modes.group-id", Reason: "must not be empty"}
	}
	parsed, errParse := policy.ParseMode(mode)
	if errParse != nil {
		return &PolicyLoadError{Field: "limits.group-modes.mode", Reason: errParse.Error()}
	}
	return s.mutate(func(cfg *Config) error {
		for i := range cfg.Limits.GroupModes {
			if cfg.Limits.GroupModes[i].GroupID == groupID {
				cfg.Limits.GroupModes[i].Mode = string(parsed)
				return nil
			}
		}
		cfg.Limits.GroupModes = append(cfg.Limits.GroupModes, GroupMode{GroupID: groupID, Mode: string(parsed)})
		return nil
	})
}

// ClearGroupMode reverts a group to the default shared mode.
func (s *Store) ClearGroupMode(groupID string) error {
	return s.mutate(func(cfg *Config) error {
		kept := cfg.Limits.GroupModes[:0]
		for _, entry := range cfg.Limits.GroupModes {
			if entry.GroupID != groupID {
				kept = append(kept, entry)
			}
		}
		cfg.Limits.GroupModes = kept
		return nil
	})
}

// AddExempt marks an identity as unlimited. Adding twice is a no-op.
func (s *Store) AddExempt(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &PolicyLoadError{Field: "limits.exempt-users", Reason: "must not be empty"}
	}
	return s.mutate(func(cfg *Config) error {
		for _, id := range cfg.Limits.ExemptUsers {
			if id == userID {
				return nil
			}
		}
		cfg.Limits.ExemptUsers = append(cfg.Limits.ExemptUsers, userID)
		return nil
	})
}

// RemoveExempt clears an identity's exemption.
func (s *Store) RemoveExempt(userID string) error {
	return s.mutate(func(cfg *Config) error {
		kept := cfg.Limits.ExemptUsers[:0]
		for _, id := range cfg.Limits.ExemptUsers {
			if id != userID {
				kept = append(kept, id)
			}
		}
		cfg.Limits.ExemptUsers = kept
		return nil
	})
}

// AddWindow appends a time window and returns its index.
func (s *Store) AddWindow(window Window) (int, error) {
	index := -1
	err := s.mutate(func(cfg *Config) error {
		cfg.Limits.TimeWindows = append(cfg.Limits.TimeWindows, window)
		index = len(cfg.Limits.TimeWindows) - 1
		return nil
	})
	if err != nil {
		return -1, err
	}
	return index, nil
}

// RemoveWindow deletes the window at index.
func (s *Store) RemoveWindow(index int) error {
	return s.mutate(func(cfg *Config) error {
		if index < 0 || index >= len(cfg.Limits.TimeWindows) {
			return &PolicyLoadError{Field: "limits.time-windows", Reason: fmt.Sprintf("no window at index %d", index)}
		}
		cfg.Limits.TimeWindows = append(cfg.Limits.TimeWindows[:index], cfg.Limits.TimeWindows[index+1:]...)
		return nil
	})
}

// SetWindowEnabled toggles the window at index.
func (s *Store) SetWindowEnabled(index int, enabled bool) error {
	return s.mutate(func(cfg *Config) error {
		if index < 0 || index >= len(cfg.Limits.TimeWindows) {
			return &PolicyLoadError{Field: "limits.time-windows", Reason: fmt.Sprintf("no window at index %d", index)}
		}
		cfg.Limits.TimeWindows[index].Enabled = enabled
		return nil
	})
}
