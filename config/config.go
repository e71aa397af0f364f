// Package config loads the service configuration. Precedence is fixed:
// compiled defaults, then the YAML file, then environment variables with
// the AGENTLENS_ prefix. Env keys follow the yaml structure, so
// AGENTLENS_STORE_DSN overrides store.dsn.
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentlens/backfill"
	"github.com/BaSui01/agentlens/evaluation"
	"github.com/BaSui01/agentlens/llm"
	"github.com/BaSui01/agentlens/sandbox"
	"github.com/BaSui01/agentlens/store"
	"github.com/BaSui01/agentlens/trace"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Log        LogConfig              `yaml:"log"`
	Store      store.Config           `yaml:"store"`
	Redis      store.RedisConfig      `yaml:"redis"`
	LLM        llm.OpenAICompatConfig `yaml:"llm"`
	Sandbox    sandbox.Config         `yaml:"sandbox"`
	Exporter   trace.ExporterConfig   `yaml:"exporter"`
	Evaluation evaluation.Config      `yaml:"evaluation"`
	Backfill   backfill.Config        `yaml:"backfill"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format       string `yaml:"format"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Default returns the compiled-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: store.DefaultConfig(),
		LLM: llm.OpenAICompatConfig{
			BaseURL:      "https://api.openai.com/v1",
			DefaultModel: "gpt-4o-mini",
			Timeout:      60 * time.Second,
			ProviderName: "openai",
		},
		Sandbox:    sandbox.DefaultConfig(),
		Exporter:   trace.DefaultExporterConfig(),
		Evaluation: evaluation.DefaultConfig(),
		Backfill:   backfill.DefaultConfig(),
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite, store.DriverPostgres, store.DriverMySQL:
	default:
		return fmt.Errorf("store.driver %q is unknown", c.Store.Driver)
	}
	if c.Store.Driver != store.DriverMemory && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
	}
	if c.Exporter.MaxPayloadBytes <= 0 {
		return fmt.Errorf("exporter.max_payload_bytes must be positive")
	}
	return nil
}
