// Package config loads process configuration for cmd/workflowctl and
// cmd/experimentd from a YAML file, layered under flag-level overrides the
// way the teacher's own cmd/assistant wires flags directly (spec's ambient
// configuration concern: a flag-parsed struct for per-invocation options,
// plus a YAML file for the slower-moving deployment settings a flag block
// would be unwieldy for — cohort/dataset roots, provider selection, cache
// directories).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider selects which internal/llm adapter backs a run.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
	ProviderEcho      Provider = "echo"
)

// Config is the top-level YAML document shape.
type Config struct {
	Provider Provider `yaml:"provider"`

	LLM struct {
		Model      string        `yaml:"model"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"llm"`

	Store struct {
		Root     string `yaml:"root"`
		MongoURI string `yaml:"mongo_uri,omitempty"`
		MongoDB  string `yaml:"mongo_database,omitempty"`
	} `yaml:"store"`

	Scheduler struct {
		RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
		TemporalHostPort   string  `yaml:"temporal_host_port,omitempty"`
		TemporalNamespace  string  `yaml:"temporal_namespace,omitempty"`
		TemporalTaskQueue  string  `yaml:"temporal_task_queue,omitempty"`
	} `yaml:"scheduler"`

	Stream struct {
		RedisAddr string `yaml:"redis_addr,omitempty"`
	} `yaml:"stream"`
}

// Default returns the configuration used when no file is supplied: an
// in-process engine, FS-backed store rooted at ./data, and
// the offline echo provider.
func Default() Config {
	var c Config
	c.Provider = ProviderEcho
	c.Store.Root = "./data"
	c.Scheduler.RateLimitPerSecond = 0
	return c
}

// Load reads and parses a YAML config file at path, falling back to Default
// field-by-field for anything the file leaves zero-valued.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if c.Store.Root == "" {
		c.Store.Root = "./data"
	}
	return c, nil
}
