package config

import (
	"fmt"
	"strings"

	"orderwatch/internal/message"
	"orderwatch/pkg/logx"
)

// Timing bounds. Out-of-range values are clamped by Normalize so an edited
// config can never make the engine spin or go dormant.
const (
	minCheckIntervalSeconds = 10
	maxCheckIntervalSeconds = 3600
	defCheckIntervalSeconds = 300

	minReminderDelayHours = 1
	maxReminderDelayHours = 168
	defReminderDelayHours = 24

	minRejectedOfferDelayHours = 1
	maxRejectedOfferDelayHours = 336
	defRejectedOfferDelayHours = 48
)

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize fills defaults and clamps timing fields into their valid ranges,
// logging every adjustment.
func (c *Config) Normalize(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	adjust := func(name string, before, after int) {
		if before != 0 && before != after {
			log.Warn("config value clamped",
				logx.String("field", name),
				logx.Int("given", before),
				logx.Int("effective", after))
		}
	}

	v := clampInt(c.Engine.CheckIntervalSeconds, minCheckIntervalSeconds, maxCheckIntervalSeconds, defCheckIntervalSeconds)
	adjust("engine.check_interval_seconds", c.Engine.CheckIntervalSeconds, v)
	c.Engine.CheckIntervalSeconds = v

	v = clampInt(c.Engine.ReminderDelayHours, minReminderDelayHours, maxReminderDelayHours, defReminderDelayHours)
	adjust("engine.reminder_delay_hours", c.Engine.ReminderDelayHours, v)
	c.Engine.ReminderDelayHours = v

	v = clampInt(c.Engine.RejectedOfferDelayHours, minRejectedOfferDelayHours, maxRejectedOfferDelayHours, defRejectedOfferDelayHours)
	adjust("engine.rejected_offer_delay_hours", c.Engine.RejectedOfferDelayHours, v)
	c.Engine.RejectedOfferDelayHours = v
}

// Validate rejects configs that cannot be acted on: unparseable durations,
// unknown message types in overrides or the allow-list, and an alert section
// missing its credentials. Missing source credentials are NOT rejected here;
// they surface as a per-cycle configuration error so the daemon can start
// before the sheet is provisioned.
func (c *Config) Validate() error {
	durations := []struct{ path, raw string }{
		{"source.timeout", c.Source.Timeout},
		{"source.cache_ttl", c.Source.CacheTTL},
		{"transport.timeout", c.Transport.Timeout},
		{"engine.min_resend_interval", c.Engine.MinResendInterval},
		{"engine.stuck_after", c.Engine.StuckAfter},
		{"resilience.retry_base", c.Resilience.RetryBase},
		{"resilience.retry_max_delay", c.Resilience.RetryMaxDelay},
		{"resilience.breaker_cooldown", c.Resilience.BreakerCooldown},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	if c.Alert != nil {
		durations = append(durations, struct{ path, raw string }{"alert.poll_timeout", c.Alert.PollTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	known := map[string]bool{}
	for _, t := range message.Types() {
		known[string(t)] = true
	}
	for name := range c.Templates {
		if !known[name] {
			return fmt.Errorf("templates: unknown message type %q", name)
		}
	}
	for _, name := range c.Engine.EnabledStatuses {
		if !known[name] {
			return fmt.Errorf("engine.enabled_statuses: unknown message type %q", name)
		}
	}

	if c.Resilience.RetryMax < 0 {
		return fmt.Errorf("resilience.retry_max: must be >= 0")
	}
	if c.Resilience.BreakerThreshold < 0 {
		return fmt.Errorf("resilience.breaker_threshold: must be >= 0")
	}

	if c.Alert != nil && c.Alert.Enabled {
		if strings.TrimSpace(c.Alert.Token) == "" {
			return fmt.Errorf("alert.token: required when alert.enabled")
		}
		if c.Alert.ChatID == 0 {
			return fmt.Errorf("alert.chat_id: required when alert.enabled")
		}
	}
	return nil
}
