// Package config holds the environment-driven configuration surface: server
// settings, pipeline defaults, LLM provider registry with pricing, and the
// built-in agent registry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object returned by Load and used
// throughout the application.
type Config struct {
	HTTPPort      string
	DatabasePath  string
	WorkspaceRoot string

	Pipeline  PipelineDefaults
	Budget    BudgetConfig
	Providers *ProviderRegistry
	Agents    *AgentRegistry
}

// BudgetConfig bounds cumulative LLM spend. Zero means unlimited.
type BudgetConfig struct {
	ChatCostLimitUSD    float64
	ProjectCostLimitUSD float64
}

// Load builds the configuration from environment variables, applying
// defaults for everything unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnv("LOOM_HTTP_PORT", "8080"),
		DatabasePath:  getEnv("LOOM_DB_PATH", "./loom.db"),
		WorkspaceRoot: getEnv("LOOM_WORKSPACE_ROOT", "./workspace"),
		Pipeline:      loadPipelineDefaults(),
		Budget: BudgetConfig{
			ChatCostLimitUSD:    getEnvFloat("LOOM_CHAT_COST_LIMIT_USD", 0),
			ProjectCostLimitUSD: getEnvFloat("LOOM_PROJECT_COST_LIMIT_USD", 0),
		},
		Providers: loadProviderRegistry(),
		Agents:    BuiltinAgentRegistry(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.DefaultMaxOutputTokens <= 0 {
		return fmt.Errorf("defaultMaxOutputTokens must be positive, got %d", c.Pipeline.DefaultMaxOutputTokens)
	}
	if c.Pipeline.DefaultMaxToolSteps <= 0 {
		return fmt.Errorf("defaultMaxToolSteps must be positive, got %d", c.Pipeline.DefaultMaxToolSteps)
	}
	if c.Providers.Default == "" {
		return fmt.Errorf("no default LLM provider configured")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
