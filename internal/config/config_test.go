package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.DefaultDailyLimit != DefaultDailyLimit {
		t.Fatalf("default daily limit %d, want %d", cfg.Limits.DefaultDailyLimit, DefaultDailyLimit)
	}
	if cfg.Redis.Prefix != DefaultKeyPrefix {
		t.Fatalf("prefix %q, want %q", cfg.Redis.Prefix, DefaultKeyPrefix)
	}
	if cfg.Web.JWTExpiry != DefaultJWTExpiry {
		t.Fatalf("jwt expiry %v, want %v", cfg.Web.JWTExpiry, DefaultJWTExpiry)
	}
}

func TestLoadParsesPolicySections(t *testing.T) {
	path := writeFile(t, `
limits:
  default-daily-limit: 20
  reset-hour: 4
  exempt-users: ["admin"]
  user-limits:
    - user-id: "U1"
      limit: 50
  group-limits:
    - group-id: "G1"
      limit: 100
  group-modes:
    - group-id: "G1"
      mode: individual
  time-windows:
    - start: "22:00"
      end: "06:00"
      limit: 3
      enabled: true
      days: weekday
redis:
  addr: "10.0.0.5:6379"
  prefix: "quota"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.DefaultDailyLimit != 20 || cfg.Limits.ResetHour != 4 {
		t.Fatalf("limits section misparsed: %+v", cfg.Limits)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" || cfg.Redis.Prefix != "quota" {
		t.Fatalf("redis section misparsed: %+v", cfg.Redis)
	}

	pol, err := cfg.Compile()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pol.Exempt["admin"]; !ok {
		t.Fatal("exempt user lost in compile")
	}
	if pol.UserLimits["U1"] != 50 || pol.GroupLimits["G1"] != 100 {
		t.Fatalf("override maps misbuilt: %+v", pol)
	}
	if pol.ModeOf("G1") != "individual" {
		t.Fatalf("group mode %q, want individual", pol.ModeOf("G1"))
	}
	if len(pol.Windows) != 1 || pol.Windows[0].Limit != 3 {
		t.Fatalf("windows misbuilt: %+v", pol.Windows)
	}
}

func TestValidateRejectsMalformedEntries(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative default", func(c *Config) { c.Limits.DefaultDailyLimit = -1 }, "limits.default-daily-limit"},
		{"reset hour high", func(c *Config) { c.Limits.ResetHour = 24 }, "limits.reset-hour"},
		{"empty user id", func(c *Config) {
			c.Limits.UserLimits = []UserLimit{{UserID: " ", Limit: 5}}
		}, "limits.user-limits[0].user-id"},
		{"negative user limit", func(c *Config) {
			c.Limits.UserLimits = []UserLimit{{UserID: "U1", Limit: -2}}
		}, "limits.user-limits[0].limit"},
		{"bad group mode", func(c *Config) {
			c.Limits.GroupModes = []GroupMode{{GroupID: "G1", Mode: "pooled"}}
		}, "limits.group-modes[0].mode"},
		{"bad window clock", func(c *Config) {
			c.Limits.TimeWindows = []Window{{Start: "25:00", End: "06:00", Limit: 1, Enabled: true}}
		}, "limits.time-windows[0]"},
		{"password without jwt secret", func(c *Config) {
			c.Web.Password = "hunter2"
		}, "web.jwt-secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			var perr *PolicyLoadError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v, want PolicyLoadError", err)
			}
			if perr.Field != tc.field {
				t.Fatalf("field %q, want %q", perr.Field, tc.field)
			}
		})
	}
}

func TestLimitsJSONUsesKebabCaseKeys(t *testing.T) {
	limits := Limits{
		DefaultDailyLimit: 20,
		ResetHour:         4,
		UserLimits:        []UserLimit{{UserID: "U1", Limit: 50}},
		GroupModes:        []GroupMode{{GroupID: "G1", Mode: "individual"}},
		TimeWindows:       []Window{{Start: "22:00", End: "06:00", Limit: 3, Enabled: true}},
	}
	data, err := json.Marshal(limits)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		`"default-daily-limit":20`,
		`"reset-hour":4`,
		`"user-id":"U1"`,
		`"group-id":"G1"`,
		`"time-windows"`,
	} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("serialized limits missing %s: %s", key, data)
		}
	}

	var parsed Limits
	if err = json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.UserLimits[0].UserID != "U1" || parsed.TimeWindows[0].Start != "22:00" {
		t.Fatalf("kebab-case keys did not bind: %+v", parsed)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeFile(t, "limits:\n  reset-hour: 99\n")
	if _, err := Load(path); err == nil {
		t.Fatal("invalid file accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvRedisAddr, "redis.internal:6379")
	t.Setenv(EnvJWTSecret, "from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis addr %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Web.JWTSecret != "from-env" {
		t.Fatalf("jwt secret %q, want env override", cfg.Web.JWTSecret)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Limits.DefaultDailyLimit = 42
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Limits.DefaultDailyLimit != 42 {
		t.Fatalf("round trip lost value: %d", loaded.Limits.DefaultDailyLimit)
	}
}
