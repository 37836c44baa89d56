package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Memory  MemoryConfig  `json:"memory"`
	Agent   AgentConfig   `json:"agent"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	mu      sync.RWMutex
}

type MemoryConfig struct {
	Backend            string  `json:"backend" env:"TUTORMEM_MEMORY_BACKEND"` // sqlite | memory
	DBPath             string  `json:"db_path" env:"TUTORMEM_MEMORY_DB_PATH"`
	SnapshotPath       string  `json:"snapshot_path" env:"TUTORMEM_MEMORY_SNAPSHOT_PATH"`
	DeviationThreshold float64 `json:"deviation_threshold" env:"TUTORMEM_MEMORY_DEVIATION_THRESHOLD"`
	HistoryLimit       int     `json:"history_limit" env:"TUTORMEM_MEMORY_HISTORY_LIMIT"`
}

type AgentConfig struct {
	DefaultTopic    string `json:"default_topic" env:"TUTORMEM_AGENT_DEFAULT_TOPIC"`
	DefaultCourseID int64  `json:"default_course_id" env:"TUTORMEM_AGENT_DEFAULT_COURSE_ID"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"TUTORMEM_LOGGING_LEVEL"`
	Format string `json:"format" env:"TUTORMEM_LOGGING_FORMAT"` // console | json
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"TUTORMEM_METRICS_ENABLED"`
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Backend:            "sqlite",
			DBPath:             "~/.tutormem/teaching_memory.db",
			SnapshotPath:       "~/.tutormem/teaching_memory.json",
			DeviationThreshold: 0.3,
			HistoryLimit:       5,
		},
		Agent: AgentConfig{
			DefaultTopic:    "general learning",
			DefaultCourseID: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// LoadConfig reads path (a missing file yields defaults) and then applies
// TUTORMEM_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch strings.ToLower(strings.TrimSpace(c.Memory.Backend)) {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("memory.backend must be sqlite or memory, got %q", c.Memory.Backend)
	}
	if c.Memory.DeviationThreshold < 0 || c.Memory.DeviationThreshold > 1 {
		return fmt.Errorf("memory.deviation_threshold must be within [0,1], got %v", c.Memory.DeviationThreshold)
	}
	return nil
}

func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Memory.DBPath)
}

func (c *Config) SnapshotFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Memory.SnapshotPath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
