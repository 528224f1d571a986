package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bus   BusConfig   `yaml:"bus"`
	Web   WebConfig   `yaml:"web"`
	GPS   GPSConfig   `yaml:"gps"`
	Home  HomeConfig  `yaml:"home_assistant"`
	Chat  ChatConfig  `yaml:"chat"`
	TTS   TTSConfig   `yaml:"tts"`
	STT   STTConfig   `yaml:"stt"`
	Radar RadarConfig `yaml:"radar"`
}

type BusConfig struct {
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`

	// Addr is host:port of gpsd.
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxRetries bounds reconnect attempts after a failed dial or a dropped
	// session. 0 uses the default; -1 means retry forever.
	MaxRetries int `yaml:"max_retries"`
}

type HomeConfig struct {
	Enable bool `yaml:"enable"`

	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ChatConfig struct {
	Enable bool `yaml:"enable"`

	// AgentKey is the agent's secret key (hex or nsec bech32).
	AgentKey string `yaml:"agent_key"`
	// OperatorPubKey is the operator's public key (hex or npub bech32).
	OperatorPubKey string `yaml:"operator_pubkey"`

	Relays []string `yaml:"relays"`

	// Lookback controls how far back DMs are fetched on startup.
	Lookback time.Duration `yaml:"lookback"`

	// ImageUploadURL is the NIP-98 authenticated upload endpoint used by the
	// send_camera_image skill. Empty disables image sending.
	ImageUploadURL string `yaml:"image_upload_url"`
}

type TTSConfig struct {
	Enable bool `yaml:"enable"`

	// Command reads one utterance per stdin line and speaks it.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type STTConfig struct {
	Enable bool `yaml:"enable"`

	// Command emits one final transcript per stdout line.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type RadarConfig struct {
	Enable bool `yaml:"enable"`

	// Addr is host:port of the radar bridge data endpoint.
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	InfoInterval time.Duration `yaml:"info_interval"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults and rejects configs that cannot work.
// Safe to call on a zero Config.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Bus.Broker) == "" {
		cfg.Bus.Broker = "tcp://localhost:1883"
	}
	if cfg.Bus.ConnectTimeout <= 0 {
		cfg.Bus.ConnectTimeout = 5 * time.Second
	}

	if cfg.Web.Enable && strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8099"
	}

	if strings.TrimSpace(cfg.GPS.Addr) == "" {
		cfg.GPS.Addr = "localhost:2947"
	}
	if cfg.GPS.DialTimeout <= 0 {
		cfg.GPS.DialTimeout = 5 * time.Second
	}
	if cfg.GPS.MaxRetries == 0 {
		cfg.GPS.MaxRetries = 20
	}

	if cfg.Home.Enable && strings.TrimSpace(cfg.Home.BaseURL) == "" {
		return fmt.Errorf("home_assistant.base_url is required when home_assistant.enable is true")
	}
	if cfg.Home.RequestTimeout <= 0 {
		cfg.Home.RequestTimeout = 10 * time.Second
	}

	if cfg.Chat.Enable {
		if strings.TrimSpace(cfg.Chat.AgentKey) == "" {
			return fmt.Errorf("chat.agent_key is required when chat.enable is true")
		}
		if strings.TrimSpace(cfg.Chat.OperatorPubKey) == "" {
			return fmt.Errorf("chat.operator_pubkey is required when chat.enable is true")
		}
	}
	if len(cfg.Chat.Relays) == 0 {
		cfg.Chat.Relays = []string{
			"wss://relay.damus.io",
			"wss://relay.primal.net",
			"wss://nos.lol",
		}
	}
	if cfg.Chat.Lookback <= 0 {
		cfg.Chat.Lookback = 1 * time.Hour
	}

	if cfg.TTS.Enable && strings.TrimSpace(cfg.TTS.Command) == "" {
		return fmt.Errorf("tts.command is required when tts.enable is true")
	}
	if cfg.STT.Enable && strings.TrimSpace(cfg.STT.Command) == "" {
		return fmt.Errorf("stt.command is required when stt.enable is true")
	}

	if cfg.Radar.Enable && strings.TrimSpace(cfg.Radar.Addr) == "" {
		return fmt.Errorf("radar.addr is required when radar.enable is true")
	}
	if cfg.Radar.DialTimeout <= 0 {
		cfg.Radar.DialTimeout = 2 * time.Second
	}
	if cfg.Radar.InfoInterval <= 0 {
		cfg.Radar.InfoInterval = 5 * time.Second
	}

	return nil
}
