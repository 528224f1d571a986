package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skillsd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Broker != "tcp://localhost:1883" {
		t.Fatalf("bus.broker=%q", cfg.Bus.Broker)
	}
	if cfg.GPS.Addr != "localhost:2947" {
		t.Fatalf("gps.addr=%q", cfg.GPS.Addr)
	}
	if cfg.GPS.DialTimeout != 5*time.Second {
		t.Fatalf("gps.dial_timeout=%v", cfg.GPS.DialTimeout)
	}
	if cfg.GPS.MaxRetries != 20 {
		t.Fatalf("gps.max_retries=%d", cfg.GPS.MaxRetries)
	}
	if len(cfg.Chat.Relays) != 3 {
		t.Fatalf("chat.relays=%v", cfg.Chat.Relays)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeTempConfig(t, `
bus:
  broker: tcp://10.0.0.5:1883
gps:
  enable: true
  addr: gps-host:2948
  dial_timeout: 2s
  max_retries: -1
radar:
  enable: true
  addr: 192.168.0.90:5556
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Broker != "tcp://10.0.0.5:1883" {
		t.Fatalf("bus.broker=%q", cfg.Bus.Broker)
	}
	if cfg.GPS.Addr != "gps-host:2948" {
		t.Fatalf("gps.addr=%q", cfg.GPS.Addr)
	}
	if cfg.GPS.MaxRetries != -1 {
		t.Fatalf("gps.max_retries=%d", cfg.GPS.MaxRetries)
	}
	if cfg.Radar.InfoInterval != 5*time.Second {
		t.Fatalf("radar.info_interval=%v", cfg.Radar.InfoInterval)
	}
}

func TestLoad_ChatRequiresKeys(t *testing.T) {
	path := writeTempConfig(t, "chat:\n  enable: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for chat without keys")
	}
}

func TestLoad_HomeRequiresBaseURL(t *testing.T) {
	path := writeTempConfig(t, "home_assistant:\n  enable: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for home_assistant without base_url")
	}
}

func TestLoad_TTSRequiresCommand(t *testing.T) {
	path := writeTempConfig(t, "tts:\n  enable: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for tts without command")
	}
}

func TestLoad_RadarRequiresAddr(t *testing.T) {
	path := writeTempConfig(t, "radar:\n  enable: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for radar without addr")
	}
}
