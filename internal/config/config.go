// Package config holds the CLI configuration types.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role represents the operator's chosen role in the call.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// Exchange medium names.
const (
	ExchangeConsole = "console"
	ExchangeWS      = "ws"
)

// DefaultICEServers are the STUN servers used for candidate gathering. No
// TURN is configured, so calls between peers behind symmetric NATs fail.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores all parameters gathered from flags, prompts and the optional
// config file.
type Config struct {
	Role Role `mapstructure:"role"`

	ICEServers    []string      `mapstructure:"ice_servers"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`

	Audio     bool   `mapstructure:"audio"`
	Video     bool   `mapstructure:"video"`
	AudioFile string `mapstructure:"audio_file"` // Ogg/Opus source looped into the audio track
	VideoFile string `mapstructure:"video_file"` // IVF/VP8 source looped into the video track

	Exchange string `mapstructure:"exchange"` // console or ws
	WSAddr   string `mapstructure:"ws_addr"`  // offerer: listen address of the WS server
	WSURL    string `mapstructure:"ws_url"`   // answerer: WS URL including ?pin=

	StatusAddr string `mapstructure:"status_addr"` // empty disables the HTTP status endpoint
	LogFile    string `mapstructure:"log_file"`    // empty disables the JSON event log
	Debug      bool   `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ice_servers", DefaultICEServers)
	v.SetDefault("stats_interval", "2s")
	v.SetDefault("gather_timeout", "10s")
	v.SetDefault("audio", true)
	v.SetDefault("video", true)
	v.SetDefault("exchange", ExchangeConsole)
	v.SetDefault("ws_addr", ":0")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads the YAML file at path on top of the defaults. An empty path
// yields the defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	switch c.Role {
	case "", RoleOfferer, RoleAnswerer:
	default:
		return fmt.Errorf("invalid role %q: must be 'offerer' or 'answerer'", c.Role)
	}
	switch c.Exchange {
	case ExchangeConsole, ExchangeWS:
	default:
		return fmt.Errorf("invalid exchange %q: must be 'console' or 'ws'", c.Exchange)
	}
	if len(c.ICEServers) == 0 {
		return fmt.Errorf("ice_servers must list at least one STUN server")
	}
	for _, u := range c.ICEServers {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return fmt.Errorf("invalid ice server %q: only stun: and stuns: URLs are supported", u)
		}
	}
	if !c.Audio && !c.Video {
		return fmt.Errorf("at least one of audio or video must be enabled")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be positive")
	}
	if c.GatherTimeout <= 0 {
		return fmt.Errorf("gather_timeout must be positive")
	}
	return nil
}
