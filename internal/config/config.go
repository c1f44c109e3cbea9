// Package config loads phlexi-push configuration from a TOML file and
// PHLEXI_PUSH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	EnvHome   = "PHLEXI_PUSH_HOME"
	EnvPrefix = "PHLEXI_PUSH"

	ConfigFilePath = "config.toml"
	StateFilePath  = "state.json"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is resolved from PHLEXI_PUSH_HOME and not read from config.
	HomeDir   string          `mapstructure:"-"`
	Endpoint  EndpointConfig  `mapstructure:"endpoint"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	State     StateConfig     `mapstructure:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// EndpointConfig locates the push endpoint and bounds the socket handshake.
type EndpointConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// ReconnectConfig controls the retry budget after a close or failed connect.
type ReconnectConfig struct {
	// MaxAttempts below zero retries forever.
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// StateConfig points at the persisted credentials file.
type StateConfig struct {
	File string `mapstructure:"file"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9464".
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaultConfig = Config{
	Endpoint: EndpointConfig{
		BaseURL:          "http://localhost:8080/",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      0,
	},
	Reconnect: ReconnectConfig{
		MaxAttempts: 5,
		Delay:       3 * time.Second,
	},
	State: StateConfig{
		File: "",
	},
	Metrics: MetricsConfig{
		ListenAddr: "",
	},
	Log: LogConfig{
		Level: "warn",
	},
}

// homeDir returns PHLEXI_PUSH_HOME if set, otherwise ~/.phlexi-push.
func homeDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".phlexi-push"), nil
}

func newViper(home string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filepath.Join(home, ConfigFilePath))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load merges defaults, config.toml and environment overrides in that order.
func Load() (*Config, error) {
	home, err := homeDir()
	if err != nil {
		return nil, err
	}

	v, err := newViper(home)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = home

	return &cfg, nil
}

// Write writes the merged configuration to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	home, err := homeDir()
	if err != nil {
		return err
	}

	v, err := newViper(home)
	if err != nil {
		return err
	}

	// Keep durations human-readable in generated TOML.
	for _, key := range []string{
		"endpoint.handshake_timeout",
		"endpoint.write_timeout",
		"endpoint.read_timeout",
		"reconnect.delay",
	} {
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint.base_url", defaultConfig.Endpoint.BaseURL)
	v.SetDefault("endpoint.handshake_timeout", defaultConfig.Endpoint.HandshakeTimeout)
	v.SetDefault("endpoint.write_timeout", defaultConfig.Endpoint.WriteTimeout)
	v.SetDefault("endpoint.read_timeout", defaultConfig.Endpoint.ReadTimeout)

	v.SetDefault("reconnect.max_attempts", defaultConfig.Reconnect.MaxAttempts)
	v.SetDefault("reconnect.delay", defaultConfig.Reconnect.Delay)

	v.SetDefault("state.file", defaultConfig.State.File)
	v.SetDefault("metrics.listen_addr", defaultConfig.Metrics.ListenAddr)
	v.SetDefault("log.level", defaultConfig.Log.Level)
}

// StatePath returns state.file, or HomeDir/state.json when unset.
func (c *Config) StatePath() string {
	if c.State.File != "" {
		return c.State.File
	}
	return filepath.Join(c.HomeDir, StateFilePath)
}

// SlogLevel parses log.level. Unknown values fall back to warn.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelWarn
	}
	return level
}

func (c EndpointConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("base_url scheme %q is not http, https, ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base_url has no host")
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 || c.ReadTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	return nil
}

func (c ReconnectConfig) Validate() error {
	if c.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	return nil
}

func (c LogConfig) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("invalid level %q", c.Level)
	}
	return nil
}

// Validate returns every section error joined.
func (cfg *Config) Validate() error {
	var errs []error

	if err := cfg.Endpoint.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconnect: %w", err))
	}
	if err := cfg.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
