// Package config loads researchd's runtime configuration from a YAML file,
// with environment variables expanded into it the way
// examples/multi-llm-review/main.go expands provider API keys.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Config is the full researchd runtime configuration.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Store struct {
		// Driver is "memory", "sqlite", or "mysql".
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	LLM struct {
		// Provider is "anthropic", "openai", or "google".
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
	} `yaml:"llm"`

	Search struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"search"`

	Resources struct {
		LLMMaxConcurrent int           `yaml:"llm_max_concurrent"`
		LLMRateLimit     int           `yaml:"llm_rate_limit"`
		DBMaxConnections int           `yaml:"db_max_connections"`
		DBIdleTimeout    time.Duration `yaml:"db_idle_timeout"`
		DBMaxAge         time.Duration `yaml:"db_max_age"`
		WorkerMax        int           `yaml:"worker_max_concurrent"`
		WorkerTimeout    time.Duration `yaml:"worker_task_timeout"`
		APIMaxConcurrent int           `yaml:"api_max_concurrent_per_name"`
		APIRateLimit     int           `yaml:"api_rate_limit_per_name"`
		APIWindow        time.Duration `yaml:"api_window"`
	} `yaml:"resources"`

	Scheduler struct {
		CheckInterval time.Duration `yaml:"check_interval"`
		TaskTimeout   time.Duration `yaml:"task_timeout"`
	} `yaml:"scheduler"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns a Config with the values researchd runs with out of the
// box: an in-memory store, modest pool sizes, and text logging at info
// level.
func Default() Config {
	var c Config
	c.HTTP.Addr = ":8080"
	c.Store.Driver = "memory"
	c.LLM.Provider = "anthropic"
	c.LLM.Model = "claude-sonnet-4-20250514"
	c.Resources.LLMMaxConcurrent = 8
	c.Resources.LLMRateLimit = 60
	c.Resources.DBMaxConnections = 10
	c.Resources.DBIdleTimeout = 5 * time.Minute
	c.Resources.DBMaxAge = 30 * time.Minute
	c.Resources.WorkerMax = 16
	c.Resources.WorkerTimeout = 2 * time.Minute
	c.Resources.APIMaxConcurrent = 4
	c.Resources.APIRateLimit = 30
	c.Resources.APIWindow = time.Minute
	c.Scheduler.CheckInterval = 30 * time.Second
	c.Scheduler.TaskTimeout = 10 * time.Minute
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load reads path as YAML over top of Default(), then expands
// ${VAR_NAME} references the same way examples/multi-llm-review/main.go's
// expandEnvVars does, in llm.api_key, search.api_key and store.dsn only;
// other string fields are left as written. A missing file
// is not an error — callers that want a config file to be mandatory
// should stat it themselves first.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		expandInto(&cfg)
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			expandInto(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	expandInto(&cfg)
	return cfg, nil
}

// Validate checks the fields Load cannot fill from a safe default —
// credentials and driver selection — returning the first problem found.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required")
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func expandInto(c *Config) {
	c.LLM.APIKey = expandEnv(c.LLM.APIKey)
	c.Search.APIKey = expandEnv(c.Search.APIKey)
	c.Store.DSN = expandEnv(c.Store.DSN)
}
