package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "MOSPROBE_CONFIG"
	DefaultConfigPath = "mosprobe.yaml"
)

const (
	BackendExec = "exec"
	BackendICMP = "icmp"

	FormatText = "text"
	FormatJSON = "json"

	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

const (
	defaultAttempts    = 20
	defaultCommand     = "ping"
	defaultArchiveDir  = "pings"
	defaultConcurrency = 1
)

var ErrEmptyConfig = errors.New("config file is empty")

type Config struct {
	Probe   ProbeConfig   `yaml:"probe"`
	Archive ArchiveConfig `yaml:"archive"`
	Output  OutputConfig  `yaml:"output"`
	Hosts   []HostEntry   `yaml:"hosts"`
}

type ProbeConfig struct {
	Attempts    int           `yaml:"attempts"`
	Backend     string        `yaml:"backend"`
	Command     string        `yaml:"command"`
	TimeoutUnit time.Duration `yaml:"timeout_unit"`
	Interval    time.Duration `yaml:"interval"`
	Privileged  bool          `yaml:"privileged"`
	Concurrency int           `yaml:"concurrency"`
	LaunchRate  float64       `yaml:"launch_rate"`
}

type ArchiveConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Required bool   `yaml:"required"`
}

// On reports whether transcripts should be archived. Archival is on unless
// explicitly disabled.
func (a ArchiveConfig) On() bool {
	return a.Enabled == nil || *a.Enabled
}

type OutputConfig struct {
	Format string `yaml:"format"`
	Color  string `yaml:"color"`
}

type HostEntry struct {
	Host string `yaml:"host"`
	Name string `yaml:"name"`
}

// Default returns the configuration written by Bootstrap.
func Default() Config {
	enabled := true
	return Config{
		Probe: ProbeConfig{
			Attempts:    defaultAttempts,
			Backend:     BackendExec,
			Command:     defaultCommand,
			TimeoutUnit: time.Second,
			Interval:    time.Second,
			Concurrency: defaultConcurrency,
		},
		Archive: ArchiveConfig{Enabled: &enabled, Dir: defaultArchiveDir},
		Output:  OutputConfig{Format: FormatText, Color: ColorAuto},
		Hosts: []HostEntry{
			{Host: "8.8.8.8", Name: "Google DNS"},
			{Host: "1.1.1.1", Name: "Cloudflare DNS"},
		},
	}
}

// Load reads a YAML config. JSON is a subset of YAML, so a JSON file with
// the same keys loads as well.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, ErrEmptyConfig
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	return Load(ctx, PathFromEnv())
}

// PathFromEnv returns the config path from MOSPROBE_CONFIG or the default.
func PathFromEnv() string {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return path
}

// ApplyDefaults fills zero values. Hosts are left untouched apart from
// trimming and defaulting an empty name to the host.
func (c *Config) ApplyDefaults() {
	if c.Probe.Attempts == 0 {
		c.Probe.Attempts = defaultAttempts
	}
	if c.Probe.Backend == "" {
		c.Probe.Backend = BackendExec
	}
	if c.Probe.Command == "" {
		c.Probe.Command = defaultCommand
	}
	if c.Probe.TimeoutUnit <= 0 {
		c.Probe.TimeoutUnit = time.Second
	}
	if c.Probe.Interval <= 0 {
		c.Probe.Interval = time.Second
	}
	if c.Probe.Concurrency == 0 {
		c.Probe.Concurrency = defaultConcurrency
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = defaultArchiveDir
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatText
	}
	if c.Output.Color == "" {
		c.Output.Color = ColorAuto
	}
	c.Probe.Backend = strings.ToLower(strings.TrimSpace(c.Probe.Backend))
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	c.Output.Color = strings.ToLower(strings.TrimSpace(c.Output.Color))
	for i := range c.Hosts {
		c.Hosts[i].Host = strings.TrimSpace(c.Hosts[i].Host)
		c.Hosts[i].Name = strings.TrimSpace(c.Hosts[i].Name)
		if c.Hosts[i].Name == "" {
			c.Hosts[i].Name = c.Hosts[i].Host
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Probe.Attempts < 1 {
		errs = append(errs, fmt.Errorf("probe.attempts must be at least 1, got %d", c.Probe.Attempts))
	}
	switch c.Probe.Backend {
	case BackendExec, BackendICMP:
	default:
		errs = append(errs, fmt.Errorf("probe.backend %q is not one of exec, icmp", c.Probe.Backend))
	}
	if c.Probe.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("probe.concurrency must be at least 1, got %d", c.Probe.Concurrency))
	}
	if c.Probe.Backend == BackendICMP && c.Probe.Interval > 2*c.Probe.TimeoutUnit {
		errs = append(errs, fmt.Errorf("probe.interval %s exceeds 2 x probe.timeout_unit %s, a silent host would always time out", c.Probe.Interval, c.Probe.TimeoutUnit))
	}
	if c.Probe.LaunchRate < 0 {
		errs = append(errs, fmt.Errorf("probe.launch_rate must not be negative, got %v", c.Probe.LaunchRate))
	}
	switch c.Output.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output.format %q is not one of text, json", c.Output.Format))
	}
	switch c.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		errs = append(errs, fmt.Errorf("output.color %q is not one of auto, always, never", c.Output.Color))
	}
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("hosts must list at least one target"))
	}
	for i, h := range c.Hosts {
		if h.Host == "" {
			errs = append(errs, fmt.Errorf("hosts[%d].host is empty", i))
		}
	}
	return errors.Join(errs...)
}
