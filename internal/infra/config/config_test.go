package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Theme != "dark" {
		t.Errorf("Theme = %q", cfg.Theme)
	}
	if cfg.Source.Type != SourcePulsoid {
		t.Errorf("Source.Type = %q", cfg.Source.Type)
	}
	if !cfg.Sinks.Discord.Enabled || !cfg.Sinks.VRChat.Enabled {
		t.Error("both sinks should be enabled by default")
	}
	if cfg.Sinks.VRChat.Host != "127.0.0.1" || cfg.Sinks.VRChat.Port != 9000 {
		t.Errorf("vrchat endpoint = %s:%d", cfg.Sinks.VRChat.Host, cfg.Sinks.VRChat.Port)
	}
	if cfg.Alerts.Threshold != 120 || cfg.Alerts.Cooldown != 300*time.Second {
		t.Errorf("alerts = %+v", cfg.Alerts)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Type != SourcePulsoid {
		t.Errorf("Source.Type = %q", cfg.Source.Type)
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
theme: light
source:
  type: bluetooth
  bluetooth:
    device_name: Polar H10
    scan_timeout: 10s
sinks:
  vrchat:
    enabled: true
    host: 127.0.0.1
    port: 9001
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Theme != "light" {
		t.Errorf("Theme = %q", cfg.Theme)
	}
	if cfg.Source.Type != SourceBluetooth {
		t.Errorf("Source.Type = %q", cfg.Source.Type)
	}
	if cfg.Source.Bluetooth.DeviceName != "Polar H10" {
		t.Errorf("DeviceName = %q", cfg.Source.Bluetooth.DeviceName)
	}
	if cfg.Source.Bluetooth.ScanTimeout != 10*time.Second {
		t.Errorf("ScanTimeout = %v", cfg.Source.Bluetooth.ScanTimeout)
	}
	if cfg.Sinks.VRChat.Port != 9001 {
		t.Errorf("Port = %d", cfg.Sinks.VRChat.Port)
	}
	// Untouched sections keep defaults.
	if cfg.Sinks.Discord.ClientID == "" {
		t.Error("discord client id default lost")
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("theme: dark\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected permission error for 0666 config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTBRIDGE_SOURCE", "bluetooth")
	t.Setenv("HEARTBRIDGE_PULSOID_TOKEN", "tok-123")
	t.Setenv("HEARTBRIDGE_VRCHAT_PORT", "9100")
	t.Setenv("HEARTBRIDGE_DISCORD_ENABLED", "false")
	t.Setenv("HEARTBRIDGE_ALERTS_ENABLED", "true")
	t.Setenv("HEARTBRIDGE_ALERTS_DISCORD_BOT_TOKEN", "bot-tok")
	t.Setenv("HEARTBRIDGE_ALERTS_DISCORD_CHANNEL_ID", "chan-1")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Source.Type != SourceBluetooth {
		t.Errorf("Source.Type = %q", cfg.Source.Type)
	}
	if cfg.Source.Pulsoid.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.Source.Pulsoid.Token)
	}
	if cfg.Sinks.VRChat.Port != 9100 {
		t.Errorf("Port = %d", cfg.Sinks.VRChat.Port)
	}
	if cfg.Sinks.Discord.Enabled {
		t.Error("discord sink should be disabled")
	}
	if !cfg.Alerts.Enabled {
		t.Error("alerts should be enabled")
	}
	if cfg.Alerts.Discord == nil || cfg.Alerts.Discord.BotToken != "bot-tok" || cfg.Alerts.Discord.ChannelID != "chan-1" {
		t.Errorf("Alerts.Discord = %+v", cfg.Alerts.Discord)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Defaults()
	cfg.Theme = "system"
	cfg.Sinks.VRChat.Port = 9050

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Theme != "system" || loaded.Sinks.VRChat.Port != 9050 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("pulsoid-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "pulsoid-secret" {
		t.Errorf("decrypted = %q", dec)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("secret", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected decrypt failure with wrong passphrase")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("real-token", "key")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "source:\n  pulsoid:\n    token: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEARTBRIDGE_CONFIG_KEY", "key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.Pulsoid.Token != "real-token" {
		t.Errorf("Token = %q", cfg.Source.Pulsoid.Token)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Theme = "neon"
	cfg.Source.Type = "polar"
	cfg.Sinks.VRChat.Port = 700000
	cfg.Source.Backoff.Max = cfg.Source.Backoff.Initial - time.Second

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if len(ve.Errors) != 4 {
		t.Errorf("got %d errors: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateAlertsRequireTarget(t *testing.T) {
	cfg := Defaults()
	cfg.Alerts.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Error("alerts without webhook or discord block should fail validation")
	}
	cfg.Alerts.WebhookURL = "https://example.com/hook"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
