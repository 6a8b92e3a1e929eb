// Package config loads and validates the daemon's YAML settings, the way
// the teacher's config.Settings does: one struct per concern, validated
// top-down from Settings.Validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artie-labs/oplogfetcher/constants"
)

// SyncSource describes the remote replica set node this daemon tails.
// Database and Namespace are both required: Namespace ("db.collection") is
// passed to oplogfetcher.Options and re-split per find/getMore command,
// while Database selects the mongo.Database the wire client is scoped to
// at Dial time.
type SyncSource struct {
	URI       string `yaml:"uri"`
	Database  string `yaml:"database"`
	Namespace string `yaml:"namespace"`
}

func (s *SyncSource) Validate() error {
	if s == nil {
		return fmt.Errorf("sync source config is nil")
	}
	if s.URI == "" {
		return fmt.Errorf("sync source uri not passed in")
	}
	if s.Database == "" {
		return fmt.Errorf("sync source database not passed in")
	}
	if s.Namespace == "" {
		return fmt.Errorf("sync source namespace not passed in")
	}
	return nil
}

// Fetcher configures the oplogfetcher.Options that aren't collaborators
// (those are wired in main.go from the other sections below).
type Fetcher struct {
	BatchSize                int32         `yaml:"batchSize"`
	MaxRestarts              int           `yaml:"maxRestarts"`
	RequiredRBID             int           `yaml:"requiredRBID"`
	RequireFresherSyncSource bool          `yaml:"requireFresherSyncSource"`
	CheckpointFile           string        `yaml:"checkpointFile"`
	AwaitDataTimeout         time.Duration `yaml:"awaitDataTimeout"`
}

func (f *Fetcher) GenerateDefault() {
	if f.BatchSize == 0 {
		f.BatchSize = constants.DefaultBatchSize
	}
	if f.MaxRestarts == 0 {
		f.MaxRestarts = 3
	}
	if f.CheckpointFile == "" {
		f.CheckpointFile = "checkpoint.yaml"
	}
	if f.AwaitDataTimeout == 0 {
		f.AwaitDataTimeout = 2 * time.Second
	}
}

func (f *Fetcher) Validate() error {
	if f == nil {
		return fmt.Errorf("fetcher config is nil")
	}
	if f.BatchSize <= 0 {
		return fmt.Errorf("fetcher batch size must be positive")
	}
	if f.MaxRestarts < 0 {
		return fmt.Errorf("fetcher max restarts must not be negative")
	}
	return nil
}

// Kafka configures the optional sink.KafkaSink egress. Kafka may be nil:
// a daemon may run with only the in-memory applier.Buffer.
type Kafka struct {
	BootstrapServers []string `yaml:"bootstrapServers"`
	Topic            string   `yaml:"topic"`
	MaxRequestBytes  int      `yaml:"maxRequestBytes"`
}

func (k *Kafka) Validate() error {
	if k == nil {
		return fmt.Errorf("kafka config is nil")
	}
	if len(k.BootstrapServers) == 0 {
		return fmt.Errorf("bootstrap servers not passed in")
	}
	if k.Topic == "" {
		return fmt.Errorf("topic not passed in")
	}
	return nil
}

type Sentry struct {
	DSN string `yaml:"dsn"`
}

type Reporting struct {
	Sentry *Sentry `yaml:"sentry"`
}

type Metrics struct {
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

// Settings is the daemon's full YAML configuration.
type Settings struct {
	SyncSource *SyncSource `yaml:"syncSource"`
	Fetcher    *Fetcher    `yaml:"fetcher"`
	Kafka      *Kafka      `yaml:"kafka"`
	Reporting  *Reporting  `yaml:"reporting"`
	Metrics    *Metrics    `yaml:"metrics"`
}

func (s *Settings) Validate() error {
	if s == nil {
		return fmt.Errorf("config is nil")
	}

	if err := s.SyncSource.Validate(); err != nil {
		return fmt.Errorf("sync source validation failed: %w", err)
	}

	if err := s.Fetcher.Validate(); err != nil {
		return fmt.Errorf("fetcher validation failed: %w", err)
	}

	if s.Kafka != nil {
		if err := s.Kafka.Validate(); err != nil {
			return fmt.Errorf("kafka validation failed: %w", err)
		}
	}

	return nil
}

// ReadConfig loads, defaults, and validates the settings file at fp.
func ReadConfig(fp string) (*Settings, error) {
	raw, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	if settings.Fetcher != nil {
		settings.Fetcher.GenerateDefault()
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config file: %w", err)
	}

	return &settings, nil
}
