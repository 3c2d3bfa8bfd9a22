// Package config owns the YAML policy file: loading with validation,
// atomic persistence, and a versioned in-memory store that publishes
// immutable policy snapshots to the enforcement path.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/router-for-me/ChatQuota/internal/policy"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvHistoryDSN    = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
)

// Defaults applied when the file omits a value.
const (
	DefaultDailyLimit    = 10
	DefaultKeyPrefix     = "chatquota"
	DefaultSnapshotDir   = "./snapshots"
	DefaultHistoryDSN    = "./chatquota.db"
	DefaultRetentionDays = 90
	DefaultJWTExpiry     = 24 * time.Hour
)

// PolicyLoadError reports a malformed configuration entry, naming the
// offending field. Malformed policy is rejected at the load or
// mutation boundary, never coerced.
type PolicyLoadError struct {
	Field  string
	Reason string
}

func (e *PolicyLoadError) Error() string {
	return fmt.Sprintf("policy load: %s: %s", e.Field, e.Reason)
}

// The limits section round-trips through the admin API as JSON, so its
// structs carry matching kebab-case json tags.

// UserLimit overrides the daily limit for one identity.
type UserLimit struct {
	UserID string `yaml:"user-id" json:"user-id"`
	Limit  int    `yaml:"limit" json:"limit"`
}

// GroupLimit overrides the daily limit for one group.
type GroupLimit struct {
	GroupID string `yaml:"group-id" json:"group-id"`
	Limit   int    `yaml:"limit" json:"limit"`
}

// GroupMode pins a group's counting mode.
type GroupMode struct {
	GroupID string `yaml:"group-id" json:"group-id"`
	Mode    string `yaml:"mode" json:"mode"`
}

// Window is a configured time-of-day limit override.
type Window struct {
	Start   string `yaml:"start" json:"start"`
	End     string `yaml:"end" json:"end"`
	Limit   int    `yaml:"limit" json:"limit"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Days    string `yaml:"days,omitempty" json:"days,omitempty"`
}

// Limits is the layered quota policy section.
type Limits struct {
	DefaultDailyLimit int          `yaml:"default-daily-limit" json:"default-daily-limit"`
	ResetHour         int          `yaml:"reset-hour" json:"reset-hour"`
	ExemptUsers       []string     `yaml:"exempt-users,omitempty" json:"exempt-users,omitempty"`
	UserLimits        []UserLimit  `yaml:"user-limits,omitempty" json:"user-limits,omitempty"`
	GroupLimits       []GroupLimit `yaml:"group-limits,omitempty" json:"group-limits,omitempty"`
	GroupModes        []GroupMode  `yaml:"group-modes,omitempty" json:"group-modes,omitempty"`
	TimeWindows       []Window     `yaml:"time-windows,omitempty" json:"time-windows,omitempty"`
}

// Redis configures the shared counter store.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Snapshots configures the trend snapshot store.
type Snapshots struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention-days"`
}

// History configures the usage history database.
type History struct {
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention-days"`
}

// Web configures the dashboard API.
type Web struct {
	// Password guards the dashboard; empty disables auth. Accepts a
	// bcrypt hash or, for configs migrated from the legacy dashboard,
	// a plain string.
	Password  string        `yaml:"password,omitempty"`
	JWTSecret string        `yaml:"jwt-secret,omitempty"`
	JWTExpiry time.Duration `yaml:"jwt-expiry,omitempty"`
}

// Config is the full file schema.
type Config struct {
	Limits    Limits    `yaml:"limits"`
	Redis     Redis     `yaml:"redis"`
	Snapshots Snapshots `yaml:"snapshots"`
	History   History   `yaml:"history"`
	Web       Web       `yaml:"web"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Limits.DefaultDailyLimit == 0 {
		c.Limits.DefaultDailyLimit = DefaultDailyLimit
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		c.Redis.Prefix = DefaultKeyPrefix
	}
	if strings.TrimSpace(c.Snapshots.Dir) == "" {
		c.Snapshots.Dir = DefaultSnapshotDir
	}
	if c.Snapshots.RetentionDays == 0 {
		c.Snapshots.RetentionDays = DefaultRetentionDays
	}
	if strings.TrimSpace(c.History.DSN) == "" {
		c.History.DSN = DefaultHistoryDSN
	}
	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = DefaultRetentionDays
	}
	if c.Web.JWTExpiry <= 0 {
		c.Web.JWTExpiry = DefaultJWTExpiry
	}
}

func (c *Config) applyEnv() {
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.Redis.Addr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		c.Redis.Password = password
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvHistoryDSN)); dsn != "" {
		c.History.DSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.Web.JWTSecret = secret
	}
}

// Load reads and validates the config file. A missing file yields the
// defaults so a fresh deployment starts without ceremony.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errors.Is(errRead, os.ErrNotExist) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	if errRead != nil {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}

	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the policy section field by field, returning a
// PolicyLoadError naming the first offending entry.
func (c *Config) Validate() error {
	if c.Limits.DefaultDailyLimit < 0 {
		return &PolicyLoadError{Field: "limits.default-daily-limit", Reason: "must be >= 0"}
	}
	if c.Limits.ResetHour < 0 || c.Limits.ResetHour > 23 {
		return &PolicyLoadError{Field: "limits.reset-hour", Reason: "must be between 0 and 23"}
	}
	for i, entry := range c.Limits.UserLimits {
		if strings.TrimSpace(entry.UserID) == "" {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.user-limits[%d].user-id", i), Reason: "must not be empty"}
		}
		if entry.Limit < 0 {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.user-limits[%d].limit", i), Reason: "must be >= 0"}
		}
	}
	for i, entry := range c.Limits.GroupLimits {
		if strings.TrimSpace(entry.GroupID) == "" {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.group-limits[%d].group-id", i), Reason: "must not be empty"}
		}
		if entry.Limit < 0 {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.group-limits[%d].limit", i), Reason: "must be >= 0"}
		}
	}
	for i, entry := range c.Limits.GroupModes {
		if strings.TrimSpace(entry.GroupID) == "" {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.group-modes[%d].group-id", i), Reason: "must not be empty"}
		}
		if _, err := policy.ParseMode(entry.Mode); err != nil {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.group-modes[%d].mode", i), Reason: err.Error()}
		}
	}
	for i, entry := range c.Limits.TimeWindows {
		if _, err := compileWindow(entry); err != nil {
			return &PolicyLoadError{Field: fmt.Sprintf("limits.time-windows[%d]", i), Reason: err.Error()}
		}
	}
	if c.Snapshots.RetentionDays < 1 {
		return &PolicyLoadError{Field: "snapshots.retention-days", Reason: "must be >= 1"}
	}
	if c.History.RetentionDays < 1 {
		return &PolicyLoadError{Field: "history.retention-days", Reason: "must be >= 1"}
	}
	if c.Web.Password != "" && strings.TrimSpace(c.Web.JWTSecret) == "" {
		return &PolicyLoadError{Field: "web.jwt-secret", Reason: "required when web.password is set"}
	}
	return nil
}

func compileWindow(w Window) (policy.TimeWindow, error) {
	days, errDays := policy.ParseDayFilter(w.Days)
	if errDays != nil {
		return policy.TimeWindow{}, errDays
	}
	return policy.NewTimeWindow(w.Start, w.End, w.Limit, w.Enabled, days)
}

// Compile builds the immutable policy snapshot the resolver consumes.
// The config must already be validated.
func (c *Config) Compile() (*policy.Policy, error) {
	p := &policy.Policy{
		Exempt:       make(map[string]struct{}, len(c.Limits.ExemptUsers)),
		UserLimits:   make(map[string]int, len(c.Limits.UserLimits)),
		GroupLimits:  make(map[string]int, len(c.Limits.GroupLimits)),
		GroupModes:   make(map[string]policy.Mode, len(c.Limits.GroupModes)),
		DefaultLimit: c.Limits.DefaultDailyLimit,
	}
	for _, id := range c.Limits.ExemptUsers {
		p.Exempt[id] = struct{}{}
	}
	for _, entry := range c.Limits.UserLimits {
		p.UserLimits[entry.UserID] = entry.Limit
	}
	for _, entry := range c.Limits.GroupLimits {
		p.GroupLimits[entry.GroupID] = entry.Limit
	}
	for _, entry := range c.Limits.GroupModes {
		mode, err := policy.ParseMode(entry.Mode)
		if err != nil {
			return nil, &PolicyLoadError{Field: "limits.group-modes", Reason: err.Error()}
		}
		p.GroupModes[entry.GroupID] = mode
	}
	for i, entry := range c.Limits.TimeWindows {
		window, err := compileWindow(entry)
		if err != nil {
			return nil, &PolicyLoadError{Field: fmt.Sprintf("limits.time-windows[%d]", i), Reason: err.Error()}
		}
		p.Windows = append(p.Windows, window)
	}
	return p, nil
}

// Save persists the config with a temp file and atomic rename.
func Save(path string, cfg *Config) error {
	data, errMarshal := yaml.Marshal(cfg)
	if errMarshal != nil {
		return fmt.Errorf("marshal config: %w", errMarshal)
	}
	dir := filepath.Dir(path)
	tmp, errTmp := os.CreateTemp(dir, ".config-*.yaml")
	if errTmp != nil {
		return fmt.Errorf("write config: %w", errTmp)
	}
	tmpName := tmp.Name()
	if _, errWrite := tmp.Write(data); errWrite != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", errWrite)
	}
	if errClose := tmp.Close(); errClose != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", errClose)
	}
	if errRename := os.Rename(tmpName, path); errRename != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write config: %w", errRename)
	}
	return nil
}
