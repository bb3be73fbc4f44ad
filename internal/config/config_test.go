package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

const validYAML = `
telegram:
  token: "123456:abcdef"
  admin_user_ids: [42, 77]
  poll_timeout: "15s"
timezone: "Europe/Moscow"
storage:
  path: "data/bot.db"
  busy_timeout: "5s"
scheduler:
  horizon_days: 180
  sweep_interval: "90s"
  archive_retention_days: 30
logging:
  level: "debug"
  console: true
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123456:abcdef" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[0] != 42 {
		t.Errorf("admin ids = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.Scheduler.HorizonDays != 180 {
		t.Errorf("horizon_days = %d", cfg.Scheduler.HorizonDays)
	}
	if got, want := cfg.Horizon(), 180*24*time.Hour; got != want {
		t.Errorf("Horizon() = %v, want %v", got, want)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Europe/Moscow" {
		t.Errorf("location = %v", loc)
	}
	if !cfg.Logging.Console || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	body := `{"telegram":{"token":"t","admin_user_ids":[1]},"storage":{"path":"x.db"}}`
	cfg, err := Load(writeConfig(t, "config.json", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Horizon(), 365*24*time.Hour; got != want {
		t.Errorf("default Horizon() = %v, want %v", got, want)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("default Location() = %v, %v; want UTC", loc, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	body := validYAML + "\nextra_section:\n  oops: true\n"
	if _, err := Load(writeConfig(t, "config.yaml", body)); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Telegram: TelegramConfig{Token: "t", AdminUserIDs: []int64{1}},
			Storage:  StorageConfig{Path: "x.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"no admins", func(c *Config) { c.Telegram.AdminUserIDs = nil }, "admin_user_ids"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad duration", func(c *Config) { c.Scheduler.SweepInterval = "five minutes" }, "sweep_interval"},
		{"negative duration", func(c *Config) { c.Telegram.PollTimeout = "-3s" }, "poll_timeout"},
		{"negative horizon", func(c *Config) { c.Scheduler.HorizonDays = -1 }, "horizon_days"},
		{"negative retention", func(c *Config) { c.Scheduler.ArchiveRetentionDays = -1 }, "archive_retention_days"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("f", ""); err != nil || d != 0 {
		t.Errorf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationField("f", "2m30s"); err != nil || d != 2*time.Minute+30*time.Second {
		t.Errorf("2m30s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("f", "nope"); err == nil {
		t.Error("expected error for garbage duration")
	}
	if d, err := ParseDurationOrDefault("f", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("default = %v, %v", d, err)
	}
}
