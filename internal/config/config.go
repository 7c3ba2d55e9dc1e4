package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const FileName = "siteflow.yml"

// Config models siteflow.yml. Environment variables override file values.
type Config struct {
	Project      ProjectConfig      `yaml:"project" json:"project"`
	Scheduling   SchedulingConfig   `yaml:"scheduling" json:"scheduling"`
	Optimization OptimizationConfig `yaml:"optimization" json:"optimization"`
	Conflicts    ConflictsConfig    `yaml:"conflicts" json:"conflicts"`
	Server       ServerConfig       `yaml:"server" json:"server"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

type ProjectConfig struct {
	ID string `yaml:"id" json:"id" env:"SITEFLOW_PROJECT"`
}

// SchedulingConfig holds the day offsets applied to a task's end date when an
// inspection is auto-scheduled.
type SchedulingConfig struct {
	RoughOffsetDays   int `yaml:"rough_offset_days" json:"rough_offset_days" env:"SITEFLOW_ROUGH_OFFSET_DAYS"`
	FinalOffsetDays   int `yaml:"final_offset_days" json:"final_offset_days" env:"SITEFLOW_FINAL_OFFSET_DAYS"`
	DefaultOffsetDays int `yaml:"default_offset_days" json:"default_offset_days" env:"SITEFLOW_DEFAULT_OFFSET_DAYS"`
}

type OptimizationConfig struct {
	// Buffers strictly longer than this are proposed for trimming.
	BufferThresholdDays int `yaml:"buffer_threshold_days" json:"buffer_threshold_days" env:"SITEFLOW_BUFFER_THRESHOLD_DAYS"`
	TargetBufferDays    int `yaml:"target_buffer_days" json:"target_buffer_days" env:"SITEFLOW_TARGET_BUFFER_DAYS"`
	// More than this many tasks starting together is flagged for leveling.
	MaxStartsPerDay int `yaml:"max_starts_per_day" json:"max_starts_per_day" env:"SITEFLOW_MAX_STARTS_PER_DAY"`
}

type ConflictsConfig struct {
	MaxTasksPerDay          int `yaml:"max_tasks_per_day" json:"max_tasks_per_day" env:"SITEFLOW_MAX_TASKS_PER_DAY"`
	HighSeverityTasksPerDay int `yaml:"high_severity_tasks_per_day" json:"high_severity_tasks_per_day" env:"SITEFLOW_HIGH_SEVERITY_TASKS_PER_DAY"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"SITEFLOW_ADDR"`
	BasePath string `yaml:"base_path" json:"base_path" env:"SITEFLOW_BASE_PATH"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"SITEFLOW_LOG_LEVEL"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Scheduling
	if s.RoughOffsetDays < 0 || s.FinalOffsetDays < 0 || s.DefaultOffsetDays < 0 {
		return errors.New("config.scheduling offsets must not be negative")
	}
	o := c.Optimization
	if o.BufferThresholdDays < 0 {
		return errors.New("config.optimization.buffer_threshold_days must not be negative")
	}
	if o.TargetBufferDays < 0 || o.TargetBufferDays > o.BufferThresholdDays {
		return fmt.Errorf("config.optimization.target_buffer_days must be between 0 and %d", o.BufferThresholdDays)
	}
	if o.MaxStartsPerDay < 1 {
		return errors.New("config.optimization.max_starts_per_day must be at least 1")
	}
	cf := c.Conflicts
	if cf.MaxTasksPerDay < 1 {
		return errors.New("config.conflicts.max_tasks_per_day must be at least 1")
	}
	if cf.HighSeverityTasksPerDay < cf.MaxTasksPerDay {
		return errors.New("config.conflicts.high_severity_tasks_per_day must be >= max_tasks_per_day")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads the workspace config, applies environment overrides and validates it.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sf config init", path)
		}
		return nil, err
	}
	cfg := Default("")
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional falls back to defaults (plus environment overrides) when the
// workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	if _, err := os.Stat(Path(workspace)); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg := Default("")
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(workspace)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config for a project.
func Default(projectID string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(projectID)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: "%s"

scheduling:
  rough_offset_days: 1
  final_offset_days: 2
  default_offset_days: 1

optimization:
  buffer_threshold_days: 2
  target_buffer_days: 1
  max_starts_per_day: 3

conflicts:
  max_tasks_per_day: 2
  high_severity_tasks_per_day: 4

server:
  addr: 127.0.0.1:8080
  base_path: /v0

logging:
  level: info
`
