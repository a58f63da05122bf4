package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models pipeline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Pipeline struct {
		// StageProbabilities maps stage name to closing probability.
		// Must be monotonically non-decreasing in stage order.
		StageProbabilities map[string]float64 `yaml:"stage_probabilities"`
		DefaultDealValue   float64            `yaml:"default_deal_value"`
		SlowStageDays      float64            `yaml:"slow_stage_days"`
		Bottleneck         struct {
			DropOffRatePct float64 `yaml:"drop_off_rate_pct"`
			DropOffCount   int     `yaml:"drop_off_count"`
		} `yaml:"bottleneck"`
		Workers int `yaml:"workers"`
	} `yaml:"pipeline"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pipeline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses defaults overlaid with raw YAML bytes, then validates.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Pipeline.DefaultDealValue <= 0 {
		return fmt.Errorf("pipeline.default_deal_value must be positive")
	}
	if c.Pipeline.SlowStageDays <= 0 {
		return fmt.Errorf("pipeline.slow_stage_days must be positive")
	}
	if c.Pipeline.Bottleneck.DropOffRatePct < 0 || c.Pipeline.Bottleneck.DropOffRatePct > 100 {
		return fmt.Errorf("pipeline.bottleneck.drop_off_rate_pct must be within [0,100]")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	prev := -1.0
	for _, name := range probabilityOrder {
		p, ok := c.Pipeline.StageProbabilities[name]
		if !ok {
			return fmt.Errorf("pipeline.stage_probabilities missing stage %s", name)
		}
		if p < 0 || p > 1 {
			return fmt.Errorf("stage %s probability %v out of [0,1]", name, p)
		}
		if p < prev {
			return fmt.Errorf("stage %s probability %v breaks monotonic order", name, p)
		}
		prev = p
	}
	return nil
}

// probabilityOrder lists the forecastable stages (complete is excluded:
// closed deals carry no closing probability).
var probabilityOrder = []string{
	"lead", "meeting", "pricing", "sow", "quotation",
	"agreement", "signed", "payment", "kickoff",
}

// DefaultYAML returns the annotated default template, suitable for
// writing a fresh pipeline.yml.
func DefaultYAML() string { return defaultTemplate }

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return &cfg
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

pipeline:
  # Closing probability by current stage. The values are the fixed table the
  # reporting layer has always used; forecasts depend on them staying put.
  stage_probabilities:
    lead: 0.05
    meeting: 0.15
    pricing: 0.25
    sow: 0.35
    quotation: 0.50
    agreement: 0.70
    signed: 0.85
    payment: 0.90
    kickoff: 0.98

  # Fallback average deal value when no agreement carries a total.
  default_deal_value: 50000

  # A stage averaging more days than this is flagged slow.
  slow_stage_days: 7

  bottleneck:
    drop_off_rate_pct: 50
    drop_off_count: 2

  workers: 8
`
