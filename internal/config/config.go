// Package config loads the lineage configuration file (YAML or JSON).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/persistence/middleware"
	"github.com/aretw0/lineage/pkg/tracker"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file when none is given.
const DefaultPath = "lineage.yaml"

// Config is the root of the configuration file.
type Config struct {
	Project     string            `yaml:"project" json:"project"`
	Description string            `yaml:"description" json:"description"`
	UserTag     string            `yaml:"user_tag" json:"user_tag"`
	Pipeline    string            `yaml:"pipeline" json:"pipeline"`
	History     HistoryConfig     `yaml:"history" json:"history"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`
	Log         LogConfig         `yaml:"log" json:"log"`
	HTTP        HTTPConfig        `yaml:"http" json:"http"`
	Sinks       []SinkConfig      `yaml:"sinks" json:"sinks"`
}

// HistoryConfig sizes the snapshot ring buffer.
type HistoryConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

// FingerprintConfig controls the duplicate-detection cache.
type FingerprintConfig struct {
	// Retention is "history" (forget with eviction) or "forever".
	Retention string `yaml:"retention" json:"retention"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// HTTPConfig configures `lineage serve`.
type HTTPConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Metrics bool   `yaml:"metrics" json:"metrics"`
}

// SinkConfig declares one writer. Options are sink specific and decoded by the
// sink factory.
type SinkConfig struct {
	Type    string         `yaml:"type" json:"type"`
	Name    string         `yaml:"name" json:"name"`
	Async   bool           `yaml:"async" json:"async"`
	Buffer  int            `yaml:"buffer" json:"buffer"`
	Redact  []string       `yaml:"redact" json:"redact"` // kwarg key patterns masked before writing
	Options map[string]any `yaml:"options" json:"options"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Project:     "default",
		History:     HistoryConfig{Capacity: domain.DefaultCapacity},
		Fingerprint: FingerprintConfig{Retention: tracker.RetainWithHistory.String()},
		Log:         LogConfig{Level: "info", Format: string(logging.FormatText)},
		HTTP:        HTTPConfig{Addr: ":8080", Metrics: true},
	}
}

// Load reads path on top of Default. A missing file yields the defaults; the
// ".json" extension selects JSON, anything else is parsed as YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, filepath.Ext(path), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes data into cfg according to ext.
func Parse(data []byte, ext string, cfg *Config) error {
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse json config: %w", err)
		}
		return nil
	}
	// Default to YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse yaml config: %w", err)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.History.Capacity < 1 {
		errs = append(errs, fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity))
	}
	if _, ok := tracker.ParseRetention(c.Fingerprint.Retention); !ok {
		errs = append(errs, fmt.Errorf("fingerprint.retention: unknown value %q", c.Fingerprint.Retention))
	}
	switch logging.Format(strings.ToLower(c.Log.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown value %q", c.Log.Format))
	}
	for i, s := range c.Sinks {
		if _, ok := factories[strings.ToLower(s.Type)]; !ok {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w: %q", i, domain.ErrUnknownSink, s.Type))
		}
		if s.Buffer < 0 {
			errs = append(errs, fmt.Errorf("sinks[%d].buffer must not be negative", i))
		}
		if _, err := middleware.NewRedactMiddleware(s.Redact); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d].redact: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Retention returns the parsed fingerprint retention policy.
func (c Config) Retention() tracker.Retention {
	r, _ := tracker.ParseRetention(c.Fingerprint.Retention)
	return r
}
