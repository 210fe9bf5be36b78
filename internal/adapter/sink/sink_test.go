package sink

import (
	"testing"

	"heartbridge/internal/infra/config"
)

func TestBuildOrderAndWrapping(t *testing.T) {
	cfg := config.SinksConfig{
		Discord: config.DiscordSinkConfig{Enabled: true, ClientID: "1"},
		VRChat:  config.VRChatSinkConfig{Enabled: true, Host: "127.0.0.1", Port: 9000},
		Breaker: config.BreakerConfig{Enabled: true},
	}

	sinks := Build(cfg, testLogger())
	if len(sinks) != 2 {
		t.Fatalf("len(sinks) = %d, want 2", len(sinks))
	}
	// Delivery order is discord then vrchat regardless of breaker wrapping.
	if sinks[0].Name() != "discord" || sinks[1].Name() != "vrchat" {
		t.Errorf("order = %s, %s", sinks[0].Name(), sinks[1].Name())
	}
	for _, s := range sinks {
		if _, ok := s.(*BreakerSink); !ok {
			t.Errorf("sink %s not wrapped by breaker", s.Name())
		}
	}
}

func TestBuildDisabledSinks(t *testing.T) {
	sinks := Build(config.SinksConfig{}, testLogger())
	if len(sinks) != 0 {
		t.Fatalf("len(sinks) = %d, want 0", len(sinks))
	}
}
