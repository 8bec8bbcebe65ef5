// ABOUTME: Configuration loading for magi-bridge
// ABOUTME: YAML file with environment variable expansion plus MAGI_* env overrides

package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment overrides for the worker invocation. Each corresponds to a
// YAML field and wins over it when set.
const (
	EnvHTTPAddr          = "MAGI_HTTP_ADDR"
	EnvDatabasePath      = "MAGI_DB_PATH"
	EnvWorkerInterpreter = "MAGI_PYTHON_BIN"
	EnvWorkerScript      = "MAGI_WORKER_SCRIPT"
)

// Built-in defaults. Every knob is optional: a missing or unreadable config
// file, or an invalid value, degrades to these with a logged warning. The
// bridge never refuses to start over configuration.
const (
	DefaultHTTPAddr          = "0.0.0.0:8080"
	DefaultDatabasePath      = "data/magi-bridge.db"
	DefaultWorkerInterpreter = "python3"
	DefaultWorkerScript      = "agents/magi_worker.py"
)

// Config represents the complete magi-bridge configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Worker   WorkerConfig   `yaml:"worker"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the trace database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig describes how the worker process is invoked.
type WorkerConfig struct {
	// Interpreter is the runtime binary, e.g. "python3".
	Interpreter string `yaml:"interpreter"`
	// Script is the worker entry point.
	Script string `yaml:"script"`
}

// TimeoutsConfig carries raw second-count strings for the timeout hierarchy,
// keyed the same way as the MAGI_*_TIMEOUT_SECONDS environment entries.
// Values are resolved (and invalid ones degraded) by the timeout package.
type TimeoutsConfig struct {
	PerParticipantSeconds string `yaml:"sage_seconds"`
	ArbiterSeconds        string `yaml:"solomon_seconds"`
	TotalSeconds          string `yaml:"total_seconds"`
	EventQueueSeconds     string `yaml:"event_queue_seconds"`
	ProcessSeconds        string `yaml:"process_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file at path, expands ${VAR} references,
// applies environment overrides, and fills defaults. A missing file is not
// an error: the defaults plus environment overrides form a complete
// configuration on their own.
func Load(path string, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info("no config file, using defaults", "path", path)
	case err != nil:
		logger.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			logger.Warn("config file invalid, using defaults", "path", path, "error", err)
			cfg = &Config{}
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvWorkerInterpreter); v != "" {
		c.Worker.Interpreter = v
	}
	if v := os.Getenv(EnvWorkerScript); v != "" {
		c.Worker.Script = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Worker.Interpreter == "" {
		c.Worker.Interpreter = DefaultWorkerInterpreter
	}
	if c.Worker.Script == "" {
		c.Worker.Script = DefaultWorkerScript
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// TimeoutOverrides merges the config file's timeout strings with the
// MAGI_*_TIMEOUT_SECONDS environment entries (environment wins) into the
// override map consumed by timeout.Resolve.
func (c *Config) TimeoutOverrides() map[string]string {
	fromFile := map[string]string{
		"MAGI_SAGE_TIMEOUT_SECONDS":        c.Timeouts.PerParticipantSeconds,
		"MAGI_SOLOMON_TIMEOUT_SECONDS":     c.Timeouts.ArbiterSeconds,
		"MAGI_TOTAL_TIMEOUT_SECONDS":       c.Timeouts.TotalSeconds,
		"MAGI_EVENT_QUEUE_TIMEOUT_SECONDS": c.Timeouts.EventQueueSeconds,
		"MAGI_PROCESS_TIMEOUT_SECONDS":     c.Timeouts.ProcessSeconds,
	}

	overrides := make(map[string]string, len(fromFile))
	for key, val := range fromFile {
		if env, ok := os.LookupEnv(key); ok && env != "" {
			overrides[key] = env
			continue
		}
		if val != "" {
			overrides[key] = val
		}
	}
	return overrides
}

// String renders the effective configuration for startup logging, without
// dumping the whole struct.
func (c *Config) String() string {
	return fmt.Sprintf("http=%s db=%s worker=%s %s",
		c.Server.HTTPAddr, c.Database.Path, c.Worker.Interpreter, c.Worker.Script)
}
