package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"orderwatch/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"source": {"spreadsheet_id": "sheet-1", "api_key": "k"},
		"transport": {"base_url": "http://127.0.0.1:3000"},
		"engine": {"check_interval_seconds": 60, "reminder_delay_hours": 24, "rejected_offer_delay_hours": 48},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.SpreadsheetID != "sheet-1" {
		t.Fatalf("spreadsheet id = %q", cfg.Source.SpreadsheetID)
	}
	if cfg.Engine.CheckIntervalSeconds != 60 {
		t.Fatalf("interval = %d", cfg.Engine.CheckIntervalSeconds)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAMLCoercion(t *testing.T) {
	path := writeFile(t, "config.yaml", `
source:
  spreadsheet_id: sheet-1
  api_key: k
transport:
  base_url: http://127.0.0.1:3000
engine:
  check_interval_seconds: 120
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.CheckIntervalSeconds != 120 {
		t.Fatalf("interval = %d", cfg.Engine.CheckIntervalSeconds)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"source": {"spreadsheet_id": "s", "api_key": "k"},
		"transport": {"base_url": "u"},
		"engine": {},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"chekc_interval": 5
	}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	path := writeFile(t, "config.json", `{"source":{},"transport":{},"engine":{},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}}}{}`)
	if _, err := NewManager(path).Load(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing-data error, got %v", err)
	}
}

func TestNormalizeClampsTiming(t *testing.T) {
	tests := []struct {
		name     string
		in       EngineConfig
		interval int
		reminder int
		rejected int
	}{
		{"defaults", EngineConfig{}, 300, 24, 48},
		{"below minimum", EngineConfig{CheckIntervalSeconds: 1, ReminderDelayHours: -5, RejectedOfferDelayHours: 0}, 10, 1, 48},
		{"above maximum", EngineConfig{CheckIntervalSeconds: 99999, ReminderDelayHours: 200, RejectedOfferDelayHours: 400}, 3600, 168, 336},
		{"in range", EngineConfig{CheckIntervalSeconds: 600, ReminderDelayHours: 12, RejectedOfferDelayHours: 72}, 600, 12, 72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Engine: tt.in}
			cfg.Normalize(logx.Nop())
			if cfg.Engine.CheckIntervalSeconds != tt.interval {
				t.Fatalf("interval = %d, want %d", cfg.Engine.CheckIntervalSeconds, tt.interval)
			}
			if cfg.Engine.ReminderDelayHours != tt.reminder {
				t.Fatalf("reminder = %d, want %d", cfg.Engine.ReminderDelayHours, tt.reminder)
			}
			if cfg.Engine.RejectedOfferDelayHours != tt.rejected {
				t.Fatalf("rejected = %d, want %d", cfg.Engine.RejectedOfferDelayHours, tt.rejected)
			}
		})
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad duration", func(c *Config) { c.Source.Timeout = "ten seconds" }, "source.timeout"},
		{"negative duration", func(c *Config) { c.Engine.MinResendInterval = "-5m" }, "min_resend_interval"},
		{"unknown template key", func(c *Config) { c.Templates = map[string]string{"shipepd": "x"} }, "unknown message type"},
		{"unknown enabled status", func(c *Config) { c.Engine.EnabledStatuses = []string{"unknown"} }, "enabled_statuses"},
		{"alert missing token", func(c *Config) { c.Alert = &AlertConfig{Enabled: true, ChatID: 5} }, "alert.token"},
		{"alert missing chat", func(c *Config) { c.Alert = &AlertConfig{Enabled: true, Token: "t"} }, "alert.chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mut(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateAcceptsTemplateOverrides(t *testing.T) {
	cfg := &Config{
		Templates: map[string]string{
			"newOrder": "مرحبا {name}",
			"shipped":  "تم شحن {orderId}",
		},
		Engine: EngineConfig{EnabledStatuses: []string{"newOrder", "noAnswer"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("nothing delivered")
	}

	// A full buffer drops the stale item, never blocks.
	m.publish(&Config{})
	newer := &Config{}
	m.publish(newer)
	if got := <-ch; got != newer {
		t.Fatal("expected newest config after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
}
