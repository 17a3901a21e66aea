package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/casualjim/linebroker"
	"github.com/casualjim/linebroker/internal/broker"
	"github.com/casualjim/linebroker/internal/registry"
	"github.com/casualjim/linebroker/pkg/natsx"
	"github.com/fogfish/opts"
	"github.com/goccy/go-yaml"
)

// Environment variables read by ApplyEnv and the broker command.
const (
	EnvConfig   = "LINEBROKER_CONFIG"
	EnvLogLevel = "LINEBROKER_LOG_LEVEL"
)

// ErrInvalid is wrapped by every error Validate reports.
var ErrInvalid = errors.New("config: invalid")

// Config is the broker's configuration.
type Config struct {
	Port                  int           `yaml:"port"`
	Topics                []string      `yaml:"topics"`
	MaxClients            int           `yaml:"max_clients"`
	MaxLineBytes          int           `yaml:"max_line_bytes"`
	QueueSize             int           `yaml:"queue_size"`
	SlowSubscriberTimeout time.Duration `yaml:"slow_subscriber_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	LogLevel              string        `yaml:"log_level"`
	NATS                  NATS          `yaml:"nats"`
}

// NATS configures the optional relay. An empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the configuration the broker runs with when nothing else is given.
func Default() *Config {
	return &Config{
		Port:                  8080,
		Topics:                []string{"speed_topic", "battery_topic"},
		MaxClients:            linebroker.DefaultMaxClients,
		MaxLineBytes:          linebroker.DefaultMaxLineBytes,
		QueueSize:             linebroker.DefaultQueueSize,
		SlowSubscriberTimeout: linebroker.DefaultSlowSubscriberTimeout,
		WriteTimeout:          linebroker.DefaultWriteTimeout,
		ShutdownTimeout:       10 * time.Second,
		LogLevel:              "info",
		NATS: NATS{
			SubjectPrefix: broker.DefaultSubjectPrefix,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment onto c.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(natsx.EnvURL); ok && v != "" {
		c.NATS.URL = v
	}
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d is out of range", ErrInvalid, c.Port))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one topic is required", ErrInvalid))
	}
	for _, topic := range c.Topics {
		if err := registry.ValidateTopic(topic); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}
	if c.MaxLineBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_line_bytes must be positive", ErrInvalid))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue_size must be positive", ErrInvalid))
	}
	for name, d := range map[string]time.Duration{
		"slow_subscriber_timeout": c.SlowSubscriberTimeout,
		"write_timeout":           c.WriteTimeout,
		"shutdown_timeout":        c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, name))
		}
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServerOptions translates c into options for linebroker.New.
func (c *Config) ServerOptions() []opts.Option[linebroker.Server] {
	return []opts.Option[linebroker.Server]{
		linebroker.WithMaxClients(c.MaxClients),
		linebroker.WithMaxLineBytes(c.MaxLineBytes),
		linebroker.WithQueueSize(c.QueueSize),
		linebroker.WithSlowSubscriberTimeout(c.SlowSubscriberTimeout),
		linebroker.WithWriteTimeout(c.WriteTimeout),
	}
}
