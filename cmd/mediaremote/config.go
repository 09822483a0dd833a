package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediaremote/internal/holdrepeat"
	"mediaremote/internal/mediaplayer"
	"mediaremote/internal/stepper"
)

// Config is the top-level YAML configuration for the mediaremote daemon.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. Validate also fills per-player defaults and the
// default key bindings.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Transport TransportConfig `yaml:"transport"`
	Players   []PlayerConfig  `yaml:"players"`
	Bindings  []BindingConfig `yaml:"bindings"`
	IPC       IPCConfig       `yaml:"ipc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	Devices []string `yaml:"devices"` // Linux input event devices; empty runs IPC-only
}

// Transport kinds
const (
	TransportHASS  = "hass"
	TransportRedis = "redis"
)

type TransportConfig struct {
	Kind  string      `yaml:"kind"`
	HASS  HASSConfig  `yaml:"hass"`
	Redis RedisConfig `yaml:"redis"`
}

type HASSConfig struct {
	WsURL     string `yaml:"ws_url"`
	TokenFile string `yaml:"token_file"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PlayerConfig describes one controlled media player. Zero values select
// the defaults; a negative max_loops disables the hold bound.
type PlayerConfig struct {
	EntityID    string `yaml:"entity_id"`
	VolumeSteps int    `yaml:"volume_steps"`
	DelayMS     int    `yaml:"delay_ms"`
	MaxLoops    int    `yaml:"max_loops"`
}

// BindingConfig maps one input key (or relative axis) to player actions.
//
// For keys, press fires on key down and release on key up. For REL_* axes,
// up fires once per positive detent and down once per negative detent.
type BindingConfig struct {
	Key     string             `yaml:"key"`
	Player  string             `yaml:"player"`
	Press   mediaplayer.Action `yaml:"press,omitempty"`
	Release mediaplayer.Action `yaml:"release,omitempty"`
	Up      mediaplayer.Action `yaml:"up,omitempty"`
	Down    mediaplayer.Action `yaml:"down,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9105"; empty disables the metrics server
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a fully-populated Config with defaults.
// Players have no default; at least one must come from the file. No input
// device is opened unless one is configured.
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Kind: TransportHASS,
			HASS: HASSConfig{
				WsURL:     "ws://homeassistant.local:8123/api/websocket",
				TokenFile: "~/.config/mediaremote/token",
				TimeoutMS: defaultReadTimeoutMS,
			},
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: defaultRedisPrefix,
			},
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds command line overrides. Each pointer is applied only
// when non-nil, even if it points at a zero value.
type FlagOverrides struct {
	InputDevices []string

	TransportKind *string
	HASSURL       *string
	HASSTokenFile *string
	RedisAddr     *string

	IPCSocketPath *string
	MetricsListen *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if len(o.InputDevices) > 0 {
		cfg.Input.Devices = append([]string(nil), o.InputDevices...)
	}

	if o.TransportKind != nil {
		cfg.Transport.Kind = *o.TransportKind
	}
	if o.HASSURL != nil {
		cfg.Transport.HASS.WsURL = *o.HASSURL
	}
	if o.HASSTokenFile != nil {
		cfg.Transport.HASS.TokenFile = *o.HASSTokenFile
	}
	if o.RedisAddr != nil {
		cfg.Transport.Redis.Addr = *o.RedisAddr
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.MetricsListen != nil {
		cfg.Metrics.Listen = *o.MetricsListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and fills derived defaults. It is
// called after defaults + file + overrides are applied. An invalid volume
// step count is reported as a *stepper.ConfigurationError.
func (c *Config) Validate() error {
	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	// Transport
	switch c.Transport.Kind {
	case TransportHASS:
		if c.Transport.HASS.WsURL == "" {
			return errors.New("transport.hass.ws_url must not be empty")
		}
		if c.Transport.HASS.TokenFile == "" {
			return errors.New("transport.hass.token_file must not be empty")
		}
		if c.Transport.HASS.TimeoutMS <= 0 {
			return errors.New("transport.hass.timeout_ms must be > 0")
		}
	case TransportRedis:
		if c.Transport.Redis.Addr == "" {
			return errors.New("transport.redis.addr must not be empty")
		}
		if c.Transport.Redis.DB < 0 {
			return errors.New("transport.redis.db must be >= 0")
		}
	default:
		return fmt.Errorf("transport.kind must be %q or %q", TransportHASS, TransportRedis)
	}

	// Players
	if len(c.Players) == 0 {
		return errors.New("players must not be empty")
	}
	seen := make(map[string]bool, len(c.Players))
	for i := range c.Players {
		p := &c.Players[i]
		if p.EntityID == "" {
			return fmt.Errorf("players[%d].entity_id must not be empty", i)
		}
		if seen[p.EntityID] {
			return fmt.Errorf("players[%d]: duplicate entity_id %q", i, p.EntityID)
		}
		seen[p.EntityID] = true

		if p.VolumeSteps == 0 {
			p.VolumeSteps = mediaplayer.DefaultVolumeSteps
		}
		if _, err := stepper.NewMinMax(0, 1, p.VolumeSteps); err != nil {
			return fmt.Errorf("players[%d].volume_steps: %w", i, err)
		}
		if p.DelayMS < 0 {
			return fmt.Errorf("players[%d].delay_ms must be >= 0", i)
		}
		if p.DelayMS == 0 {
			p.DelayMS = int(holdrepeat.DefaultDelay / time.Millisecond)
		}
		if p.MaxLoops == 0 {
			p.MaxLoops = holdrepeat.DefaultMaxLoops
		}
	}

	// Bindings
	if len(c.Bindings) == 0 {
		c.Bindings = defaultBindings(c.Players[0].EntityID)
	}
	for i := range c.Bindings {
		if err := c.Bindings[i].validate(seen); err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := parseLogFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}

func (b *BindingConfig) validate(players map[string]bool) error {
	if _, ok := keyCodes[b.Key]; !ok {
		return fmt.Errorf("unknown key %q", b.Key)
	}
	if !players[b.Player] {
		return fmt.Errorf("unknown player %q", b.Player)
	}

	if b.isAxis() {
		if b.Up == "" {
			b.Up = mediaplayer.ClickVolumeUp
		}
		if b.Down == "" {
			b.Down = mediaplayer.ClickVolumeDown
		}
		return checkActions(b.Up, b.Down)
	}

	if b.Press == "" {
		return errors.New("press must not be empty")
	}
	if b.Release == "" {
		return checkActions(b.Press)
	}
	return checkActions(b.Press, b.Release)
}

func (b *BindingConfig) isAxis() bool {
	return strings.HasPrefix(b.Key, "REL_")
}

func checkActions(actions ...mediaplayer.Action) error {
	for _, a := range actions {
		if !a.Valid() {
			return fmt.Errorf("%w: %q", mediaplayer.ErrUnknownAction, a)
		}
	}
	return nil
}

// defaultBindings binds the common media keys of a remote to one player.
func defaultBindings(player string) []BindingConfig {
	return []BindingConfig{
		{Key: "KEY_VOLUMEUP", Player: player, Press: mediaplayer.HoldVolumeUp, Release: mediaplayer.Release},
		{Key: "KEY_VOLUMEDOWN", Player: player, Press: mediaplayer.HoldVolumeDown, Release: mediaplayer.Release},
		{Key: "KEY_PLAYPAUSE", Player: player, Press: mediaplayer.PlayPause},
		{Key: "KEY_NEXTSONG", Player: player, Press: mediaplayer.NextTrack},
		{Key: "KEY_PREVIOUSSONG", Player: player, Press: mediaplayer.PreviousTrack},
		{Key: "KEY_CHANNELUP", Player: player, Press: mediaplayer.NextSource},
		{Key: "KEY_CHANNELDOWN", Player: player, Press: mediaplayer.PreviousSource},
		{Key: "REL_DIAL", Player: player},
	}
}

// controllerConfig converts a validated player entry into controller settings.
func (p PlayerConfig) controllerConfig() mediaplayer.Config {
	return mediaplayer.Config{
		EntityID:    p.EntityID,
		VolumeSteps: p.VolumeSteps,
		Delay:       time.Duration(p.DelayMS) * time.Millisecond,
		MaxLoops:    p.MaxLoops,
	}
}

// readTokenFile returns the trimmed contents of a token file.
func readTokenFile(path string) (string, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
