package config

// Config is the full daemon configuration. The file is JSON; YAML is
// accepted and coerced (see yaml.go). Unknown keys are rejected so typos
// are caught on reload instead of silently ignored.
type Config struct {
	Source    SourceConfig    `json:"source"`
	Transport TransportConfig `json:"transport"`
	Engine    EngineConfig    `json:"engine"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`

	Resilience ResilienceConfig `json:"resilience,omitempty"`

	// Templates overrides the built-in message bodies, keyed by message
	// type (newOrder / noAnswer / shipped / rejectedOffer).
	Templates map[string]string `json:"templates,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Alert   *AlertConfig   `json:"alert,omitempty"`
	Logging LoggingConfig  `json:"logging"`
}

// SourceConfig points at the order sheet.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SourceConfig struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	APIKey        string `json:"api_key"`
	// Range is an A1-notation range; defaults to the Orders sheet.
	Range   string `json:"range,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	// CacheTTL bounds how long a fetched row set is reused across cycles.
	// "0s" disables the cache.
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// TransportConfig points at the WhatsApp HTTP gateway.
type TransportConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	// SkipUnregistered drops rows whose phone the gateway does not know.
	// Only consulted while the gateway session is connected.
	SkipUnregistered bool `json:"skip_unregistered,omitempty"`
}

// EngineConfig controls cycle timing.
//
// Out-of-range values are clamped, not rejected (see Normalize):
//   - check_interval_seconds: 10–3600, default 300
//   - reminder_delay_hours: 1–168, default 24
//   - rejected_offer_delay_hours: 1–336, default 48
type EngineConfig struct {
	CheckIntervalSeconds    int `json:"check_interval_seconds,omitempty"`
	ReminderDelayHours      int `json:"reminder_delay_hours,omitempty"`
	RejectedOfferDelayHours int `json:"rejected_offer_delay_hours,omitempty"`

	// MinResendInterval is the duplicate-suppression window. Default "30m".
	MinResendInterval string `json:"min_resend_interval,omitempty"`

	// EnabledStatuses is the message-type allow-list. Empty means all.
	EnabledStatuses []string `json:"enabled_statuses,omitempty"`

	// StuckAfter flags an in-flight cycle as stuck in health reports.
	// Default is three check intervals.
	StuckAfter string `json:"stuck_after,omitempty"`
}

// DispatchConfig controls the outbound worker pool.
type DispatchConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ResilienceConfig controls retry and circuit breaking for remote calls.
type ResilienceConfig struct {
	RetryMax         int    `json:"retry_max,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	BreakerThreshold int    `json:"breaker_threshold,omitempty"`
	BreakerCooldown  string `json:"breaker_cooldown,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./orderwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlertConfig controls operator alerts over Telegram.
type AlertConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	ChatID      int64  `json:"chat_id"`
	RatePerMin  int    `json:"rate_per_min,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
