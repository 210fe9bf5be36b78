package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTheme(cfg, ve)
	validateSource(cfg, ve)
	validateSinks(cfg, ve)
	validateAlerts(cfg, ve)
	validateHistory(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateTheme(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Theme) {
	case "dark", "light", "system":
	default:
		ve.Add("theme must be one of dark, light, system (got %q)", cfg.Theme)
	}
}

func validateSource(cfg *Config, ve *ValidationError) {
	switch cfg.Source.Type {
	case SourcePulsoid, SourceBluetooth:
	default:
		ve.Add("source.type must be %q or %q (got %q)", SourcePulsoid, SourceBluetooth, cfg.Source.Type)
	}
	if cfg.Source.Type == SourceBluetooth && cfg.Source.Bluetooth.ScanTimeout <= 0 {
		ve.Add("source.bluetooth.scan_timeout must be > 0")
	}
	if cfg.Source.Backoff.Initial <= 0 {
		ve.Add("source.backoff.initial must be > 0")
	}
	if cfg.Source.Backoff.Max < cfg.Source.Backoff.Initial {
		ve.Add("source.backoff.max must be >= source.backoff.initial")
	}
}

func validateSinks(cfg *Config, ve *ValidationError) {
	if cfg.Sinks.Discord.Enabled && cfg.Sinks.Discord.ClientID == "" {
		ve.Add("sinks.discord.client_id is required when the discord sink is enabled")
	}
	if cfg.Sinks.VRChat.Enabled {
		if cfg.Sinks.VRChat.Host == "" {
			ve.Add("sinks.vrchat.host is required when the vrchat sink is enabled")
		}
		if cfg.Sinks.VRChat.Port <= 0 || cfg.Sinks.VRChat.Port > 65535 {
			ve.Add("sinks.vrchat.port must be in 1-65535 (got %d)", cfg.Sinks.VRChat.Port)
		}
	}
	if cfg.Sinks.Breaker.Enabled && cfg.Sinks.Breaker.MaxFailures == 0 {
		ve.Add("sinks.breaker.max_failures must be > 0 when the breaker is enabled")
	}
}

func validateAlerts(cfg *Config, ve *ValidationError) {
	if !cfg.Alerts.Enabled {
		return
	}
	if cfg.Alerts.Threshold <= 0 {
		ve.Add("alerts.threshold must be > 0")
	}
	if cfg.Alerts.Cooldown <= 0 {
		ve.Add("alerts.cooldown must be > 0")
	}
	if cfg.Alerts.WebhookURL == "" && cfg.Alerts.Discord == nil {
		ve.Add("alerts require a webhook_url or a discord block")
	}
	if cfg.Alerts.Discord != nil {
		if cfg.Alerts.Discord.BotToken == "" {
			ve.Add("alerts.discord.bot_token is required")
		}
		if cfg.Alerts.Discord.ChannelID == "" {
			ve.Add("alerts.discord.channel_id is required")
		}
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !cfg.History.Enabled {
		return
	}
	if cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
	if cfg.History.RetentionDays <= 0 {
		ve.Add("history.retention_days must be > 0")
	}
}
