// Package config holds runtime settings for the m2mfetch CLI. Defaults are
// applied first, then an optional YAML file overlays them; command-line flags
// are bound on top by the CLI layer. Credentials are not part of this struct:
// they are resolved at the edge and passed into the session manager
// explicitly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Duration wraps time.Duration so YAML values like "90s" or "1h" parse.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config bounds every tunable of the client. RequestsPerSecond of zero
// disables client-side pacing.
type Config struct {
	Endpoint          string   `yaml:"endpoint"`
	HTTPTimeout       Duration `yaml:"http_timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Concurrency       int      `yaml:"concurrency"`
	BatchSize         int      `yaml:"batch_size"`
	PollInterval      Duration `yaml:"poll_interval"`
	PollCap           Duration `yaml:"poll_cap"`
	PollMaxWait       Duration `yaml:"poll_max_wait"`
	FetchRetries      uint64   `yaml:"fetch_retries"`
}

// LoadDefaults populates c with the documented default policy.
func (c *Config) LoadDefaults() {
	c.Endpoint = m2m.DefaultEndpoint
	c.HTTPTimeout = Duration(90 * time.Second)
	c.RequestsPerSecond = 4
	c.Concurrency = 5
	c.BatchSize = 1000
	c.PollInterval = Duration(5 * time.Second)
	c.PollCap = Duration(time.Minute)
	c.PollMaxWait = Duration(time.Hour)
	c.FetchRetries = 3
}

// Load constructs a Config from defaults plus the optional YAML file at
// path. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
