package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"heartbridge/internal/domain"
)

// SourceType selects the heart-rate source.
const (
	SourcePulsoid   = "pulsoid"
	SourceBluetooth = "bluetooth"
)

// Config is the top-level application configuration.
type Config struct {
	Theme   string        `yaml:"theme"` // "dark", "light", "system"
	Source  SourceConfig  `yaml:"source"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	History HistoryConfig `yaml:"history"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// SourceConfig selects and configures exactly one reading source.
type SourceConfig struct {
	Type      string          `yaml:"type"` // "pulsoid" or "bluetooth"
	Pulsoid   PulsoidConfig   `yaml:"pulsoid"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Backoff   BackoffConfig   `yaml:"backoff"`
}

// PulsoidConfig holds Pulsoid cloud stream settings.
type PulsoidConfig struct {
	// Token is the Pulsoid access token. Supports "enc:" values decrypted
	// with HEARTBRIDGE_CONFIG_KEY.
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url,omitempty"` // override for tests
}

// BluetoothConfig holds BLE heart-rate monitor settings.
type BluetoothConfig struct {
	// DeviceAddress pins a specific monitor. Empty means connect to the first
	// device advertising the heart-rate service.
	DeviceAddress string        `yaml:"device_address,omitempty"`
	DeviceName    string        `yaml:"device_name,omitempty"`
	ScanTimeout   time.Duration `yaml:"scan_timeout"`
}

// BackoffConfig bounds the dispatcher's reconnect backoff.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// SinksConfig holds per-sink settings. Each sink is independent: disabling one
// never affects delivery to another.
type SinksConfig struct {
	Discord DiscordSinkConfig `yaml:"discord"`
	VRChat  VRChatSinkConfig  `yaml:"vrchat"`
	Breaker BreakerConfig     `yaml:"breaker"`
}

// DiscordSinkConfig holds Discord Rich Presence settings.
type DiscordSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ClientID   string `yaml:"client_id"`
	LargeImage string `yaml:"large_image,omitempty"`
	SmallImage string `yaml:"small_image,omitempty"`
}

// VRChatSinkConfig holds VRChat OSC settings.
type VRChatSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// BreakerConfig holds circuit breaker settings for sink publishes.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AlertsConfig holds high-heart-rate alert settings.
type AlertsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"` // BPM
	Cooldown  time.Duration `yaml:"cooldown"`  // minimum gap between alerts
	// WebhookURL receives a JSON POST per alert. Supports "enc:" values.
	WebhookURL string              `yaml:"webhook_url,omitempty"`
	Discord    *AlertDiscordConfig `yaml:"discord,omitempty"` // nil = no bot alerts
}

// AlertDiscordConfig holds Discord bot alert settings.
type AlertDiscordConfig struct {
	// BotToken supports "enc:" values.
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// HistoryConfig holds reading history store settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"` // cron expression
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.heartbridge.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".heartbridge")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Theme: "dark",
		Source: SourceConfig{
			Type: SourcePulsoid,
			Bluetooth: BluetoothConfig{
				ScanTimeout: 5 * time.Second,
			},
			Backoff: BackoffConfig{
				Initial: 2 * time.Second,
				Max:     60 * time.Second,
			},
		},
		Sinks: SinksConfig{
			Discord: DiscordSinkConfig{
				Enabled:  true,
				ClientID: "1285817369662328904",
			},
			VRChat: VRChatSinkConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    9000,
			},
			Breaker: BreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Alerts: AlertsConfig{
			Enabled:   false,
			Threshold: 120,
			Cooldown:  300 * time.Second,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          filepath.Join(dataDir, "history.db"),
			RetentionDays: 90,
			PruneSchedule: "0 3 * * *",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfigLoad, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfigLoad, path, err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("HEARTBRIDGE_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration back to disk with restrictive permissions.
// Used on settings-save from the dashboard.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides maps HEARTBRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTBRIDGE_THEME"); v != "" {
		cfg.Theme = v
	}
	if v := os.Getenv("HEARTBRIDGE_SOURCE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("HEARTBRIDGE_PULSOID_TOKEN"); v != "" {
		cfg.Source.Pulsoid.Token = v
	}
	if v := os.Getenv("HEARTBRIDGE_BLUETOOTH_DEVICE_ADDRESS"); v != "" {
		cfg.Source.Bluetooth.DeviceAddress = v
	}
	if v := os.Getenv("HEARTBRIDGE_BLUETOOTH_DEVICE_NAME"); v != "" {
		cfg.Source.Bluetooth.DeviceName = v
	}
	if v := os.Getenv("HEARTBRIDGE_BLUETOOTH_SCAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Source.Bluetooth.ScanTimeout = d
		}
	}
	if v := os.Getenv("HEARTBRIDGE_BACKOFF_INITIAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Source.Backoff.Initial = d
		}
	}
	if v := os.Getenv("HEARTBRIDGE_BACKOFF_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Source.Backoff.Max = d
		}
	}

	if v := os.Getenv("HEARTBRIDGE_DISCORD_ENABLED"); v == "false" {
		cfg.Sinks.Discord.Enabled = false
	}
	if v := os.Getenv("HEARTBRIDGE_DISCORD_CLIENT_ID"); v != "" {
		cfg.Sinks.Discord.ClientID = v
	}
	if v := os.Getenv("HEARTBRIDGE_DISCORD_LARGE_IMAGE"); v != "" {
		cfg.Sinks.Discord.LargeImage = v
	}
	if v := os.Getenv("HEARTBRIDGE_DISCORD_SMALL_IMAGE"); v != "" {
		cfg.Sinks.Discord.SmallImage = v
	}
	if v := os.Getenv("HEARTBRIDGE_VRCHAT_ENABLED"); v == "false" {
		cfg.Sinks.VRChat.Enabled = false
	}
	if v := os.Getenv("HEARTBRIDGE_VRCHAT_HOST"); v != "" {
		cfg.Sinks.VRChat.Host = v
	}
	if v := os.Getenv("HEARTBRIDGE_VRCHAT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sinks.VRChat.Port = n
		}
	}

	if v := os.Getenv("HEARTBRIDGE_ALERTS_ENABLED"); v == "true" {
		cfg.Alerts.Enabled = true
	}
	if v := os.Getenv("HEARTBRIDGE_ALERTS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Alerts.Threshold = n
		}
	}
	if v := os.Getenv("HEARTBRIDGE_ALERTS_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Alerts.Cooldown = d
		}
	}
	if v := os.Getenv("HEARTBRIDGE_ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("HEARTBRIDGE_ALERTS_DISCORD_BOT_TOKEN"); v != "" {
		if cfg.Alerts.Discord == nil {
			cfg.Alerts.Discord = &AlertDiscordConfig{}
		}
		if cfg.Alerts.Discord.BotToken == "" {
			cfg.Alerts.Discord.BotToken = v
		}
	}
	if v := os.Getenv("HEARTBRIDGE_ALERTS_DISCORD_CHANNEL_ID"); v != "" {
		if cfg.Alerts.Discord == nil {
			cfg.Alerts.Discord = &AlertDiscordConfig{}
		}
		if cfg.Alerts.Discord.ChannelID == "" {
			cfg.Alerts.Discord.ChannelID = v
		}
	}

	if v := os.Getenv("HEARTBRIDGE_HISTORY_ENABLED"); v == "false" {
		cfg.History.Enabled = false
	}
	if v := os.Getenv("HEARTBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("HEARTBRIDGE_HISTORY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.History.RetentionDays = n
		}
	}

	if v := os.Getenv("HEARTBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HEARTBRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("HEARTBRIDGE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("HEARTBRIDGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("HEARTBRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name string
		p    *string
	}{
		{"pulsoid token", &cfg.Source.Pulsoid.Token},
		{"alert webhook url", &cfg.Alerts.WebhookURL},
	}
	if cfg.Alerts.Discord != nil {
		secrets = append(secrets, struct {
			name string
			p    *string
		}{"alert discord bot token", &cfg.Alerts.Discord.BotToken})
	}

	for _, s := range secrets {
		if strings.HasPrefix(*s.p, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(*s.p, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			*s.p = decrypted
		}
	}
	return nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
