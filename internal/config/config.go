package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level kapital.yaml configuration.
type Config struct {
	Card   CardConfig  `yaml:"card"`
	Range  RangeConfig `yaml:"range"`
	Fetch  FetchConfig `yaml:"fetch"`
	Output string      `yaml:"output"`
	Cache  string      `yaml:"cache_file"`
	// BaseURL overrides the upstream API root, mainly for testing.
	BaseURL string `yaml:"base_url,omitempty"`
}

// CardConfig holds the card used to authenticate.
type CardConfig struct {
	Pan         string `yaml:"pan"`
	Expiry      string `yaml:"expiry"` // MMYY, exactly 4 digits
	AppPassword string `yaml:"app_password"`
}

// RangeConfig bounds the exported history. Dates are "YYYY-MM-DD"; an
// empty To means now.
type RangeConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to,omitempty"`
}

// FetchConfig tunes the history fetch pipeline.
type FetchConfig struct {
	ChunkDays      int `yaml:"chunk_days"`
	Concurrency    int `yaml:"concurrency"`     // 0 = unbounded
	TimeoutSeconds int `yaml:"timeout_seconds"` // 0 = no global timeout
}

const dateFormat = "2006-01-02"

// Load reads a kapital.yaml file from disk and applies environment
// overrides (KAPITAL_PAN, KAPITAL_EXPIRY, KAPITAL_APP_PASSWORD).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with the exporter's defaults.
func Default() *Config {
	return &Config{
		Range: RangeConfig{From: "2023-01-01"},
		Fetch: FetchConfig{
			ChunkDays:   30,
			Concurrency: 8,
		},
		Output: "excel.xlsx",
		Cache:  "kapidata.yaml",
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KAPITAL_PAN"); v != "" {
		c.Card.Pan = v
	}
	if v := os.Getenv("KAPITAL_EXPIRY"); v != "" {
		c.Card.Expiry = v
	}
	if v := os.Getenv("KAPITAL_APP_PASSWORD"); v != "" {
		c.Card.AppPassword = v
	}
}

// Validate checks the non-card settings. Card format is validated by the
// session constructor so it holds regardless of how the card was supplied.
func (c *Config) Validate() error {
	if c.Fetch.ChunkDays <= 0 {
		return fmt.Errorf("fetch.chunk_days must be positive, got %d", c.Fetch.ChunkDays)
	}
	if c.Fetch.Concurrency < 0 {
		return fmt.Errorf("fetch.concurrency must not be negative, got %d", c.Fetch.Concurrency)
	}
	from, err := c.FromTime()
	if err != nil {
		return err
	}
	to, err := c.ToTime()
	if err != nil {
		return err
	}
	if !from.Before(to) {
		return fmt.Errorf("range.from %s must be before range.to %s", from.Format(dateFormat), to.Format(dateFormat))
	}
	return nil
}

// FromTime returns the start of the export range.
func (c *Config) FromTime() (time.Time, error) {
	if c.Range.From == "" {
		return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateFormat, c.Range.From)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing range.from: %w", err)
	}
	return t, nil
}

// ToTime returns the end of the export range; empty means now.
func (c *Config) ToTime() (time.Time, error) {
	if c.Range.To == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(dateFormat, c.Range.To)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing range.to: %w", err)
	}
	return t, nil
}
