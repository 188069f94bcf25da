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
)

// Config is the top-level YAML configuration for the swipetrack daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The config file is the primary configuration surface;
// flags are small overrides on top of it.
type Config struct {
	// Recording session behavior
	Session SessionConfig `yaml:"session"`

	// Touchscreen input configuration
	Input InputConfig `yaml:"input"`

	// IPC configuration (used by `swipetrack send` and host adapters)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP / WebSocket server configuration
	HTTP HTTPConfig `yaml:"http"`

	// CSV export sink
	Export ExportConfig `yaml:"export"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SessionConfig struct {
	// DurationMS is how long a recording lasts before it is ended automatically.
	// 0 disables the timer; sessions then only end on an explicit end request.
	DurationMS int `yaml:"duration_ms"`
}

type InputConfig struct {
	// Devices lists evdev touchscreen nodes (e.g. /dev/input/event2).
	// Empty disables direct touch input; samples can still arrive over IPC/HTTP.
	Devices []string `yaml:"devices,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type ExportConfig struct {
	Dir        string `yaml:"dir"`
	Auto       bool   `yaml:"auto"`
	FilePrefix string `yaml:"file_prefix"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			DurationMS: int(defaultSessionDuration / time.Millisecond),
		},
		Input: InputConfig{},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			ListenAddr: defaultHTTPListenAddr,
		},
		Export: ExportConfig{
			Dir:        ".",
			Auto:       false,
			FilePrefix: defaultExportPrefix,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - Paths inside the config are not expanded here; call sites use ExpandPath.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries values from command-line flags. Each override is only
// applied when its pointer is non-nil, so main decides which flags were set.
type FlagOverrides struct {
	SessionDurationMS *int
	InputDevices      *[]string
	IPCSocketPath     *string
	HTTPListenAddr    *string
	ExportDir         *string
	ExportAuto        *bool
	LogLevel          *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil the value is
// applied, even if it is a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.SessionDurationMS != nil {
		cfg.Session.DurationMS = *o.SessionDurationMS
	}
	if o.InputDevices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.InputDevices)...)
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListenAddr != nil {
		cfg.HTTP.ListenAddr = *o.HTTPListenAddr
	}
	if o.ExportDir != nil {
		cfg.Export.Dir = *o.ExportDir
	}
	if o.ExportAuto != nil {
		cfg.Export.Auto = *o.ExportAuto
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.Session.DurationMS < 0 {
		return errors.New("session.duration_ms must be >= 0")
	}

	for i, dev := range c.Input.Devices {
		if strings.TrimSpace(dev) == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.IPC.SocketPath == "" && c.HTTP.ListenAddr == "" && len(c.Input.Devices) == 0 {
		return errors.New("no sample source configured: set ipc.socket_path, http.listen_addr or input.devices")
	}

	if c.Export.Auto && c.Export.Dir == "" {
		return errors.New("export.auto is true but export.dir is empty")
	}
	if strings.ContainsAny(c.Export.FilePrefix, `/\`) {
		return errors.New("export.file_prefix must not contain path separators")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// SessionDuration returns the configured recording length.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Session.DurationMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
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
