package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/daimoniac/cdpilot/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBasePath is the orchestrator mount point behind the dashboard host
	DefaultBasePath = "/orchestrator"

	// DefaultTimeout applies when neither the request nor the config sets one
	DefaultTimeout = 60000 * time.Millisecond

	// DefaultLoginPath is where an expired session is sent
	DefaultLoginPath = "/login/sso"
)

// ParseFile reads cdpilot.yml defaults. A missing file yields a transient
// error; unreadable or malformed files yield permanent ones.
func ParseFile(path string) (*FileDefaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewTransientf("config file not found: %w", err)
	}
	if err != nil {
		return nil, errors.NewPermanentf("failed to read config file: %w", err)
	}

	var defaults FileDefaults
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, errors.NewPermanentf("failed to parse config YAML: %w", err)
	}

	return &defaults, nil
}

// Load loads configuration from environment variables and cdpilot.yml defaults
func Load() (*Config, error) {
	configPath := getEnv("CDPILOT_CONFIG", "cdpilot.yml")

	host := ""
	basePath := DefaultBasePath
	timeout := DefaultTimeout
	loginPath := DefaultLoginPath
	batchSize := 5
	reqPerSec := 0
	pageSize := 20
	historyEnabled := true
	sqlitePath := "cdpilot.db"
	explainFilters := false
	logLevel := "info"

	// A missing file is fine, env and hardcoded defaults still apply. Any
	// other read or parse failure is returned.
	if defaults, err := ParseFile(configPath); err == nil {
		if defaults.Orchestrator.Host != "" {
			host = defaults.Orchestrator.Host
		}
		if defaults.Orchestrator.BasePath != "" {
			basePath = defaults.Orchestrator.BasePath
		}
		if defaults.Orchestrator.Timeout != "" {
			d, err := time.ParseDuration(defaults.Orchestrator.Timeout)
			if err != nil {
				return nil, errors.NewPermanentf("invalid orchestrator timeout %q: %w", defaults.Orchestrator.Timeout, err)
			}
			timeout = d
		}
		if defaults.Orchestrator.LoginPath != "" {
			loginPath = defaults.Orchestrator.LoginPath
		}
		if defaults.Bulk.BatchSize > 0 {
			batchSize = defaults.Bulk.BatchSize
		}
		if defaults.Bulk.ReqPerSec > 0 {
			reqPerSec = defaults.Bulk.ReqPerSec
		}
		if defaults.Bulk.PageSize > 0 {
			pageSize = defaults.Bulk.PageSize
		}
		if defaults.History.Enabled != nil {
			historyEnabled = *defaults.History.Enabled
		}
		if defaults.History.SQLitePath != "" {
			sqlitePath = defaults.History.SQLitePath
		}
		explainFilters = defaults.Policy.ExplainFilters
		if defaults.LogLevel != "" {
			logLevel = defaults.LogLevel
		}
	} else if errors.IsPermanent(err) {
		return nil, err
	}

	cfg := &Config{
		ConfigPath: configPath,
		Orchestrator: OrchestratorConfig{
			Host:      getEnv("ORCHESTRATOR_HOST", host),
			BasePath:  getEnv("ORCHESTRATOR_BASE_PATH", basePath),
			Token:     getEnv("ORCHESTRATOR_TOKEN", ""),
			Timeout:   getEnvDuration("REQUEST_TIMEOUT", timeout),
			LoginPath: getEnv("LOGIN_PATH", loginPath),
		},
		Bulk: BulkConfig{
			BatchSize: getEnvInt("BULK_BATCH_SIZE", batchSize),
			ReqPerSec: getEnvInt("BULK_REQ_PER_SEC", reqPerSec),
			PageSize:  getEnvInt("MATERIAL_PAGE_SIZE", pageSize),
		},
		History: HistoryConfig{
			Enabled:    getEnvBool("HISTORY_ENABLED", historyEnabled),
			SQLitePath: getEnv("HISTORY_SQLITE_PATH", sqlitePath),
		},
		Policy: PolicyConfig{
			ExplainFilters: getEnvBool("EXPLAIN_FILTERS", explainFilters),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", logLevel),
			MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Orchestrator.Host == "" {
		return errors.NewPermanentf("ORCHESTRATOR_HOST is required (e.g., https://devtron.example.com)")
	}

	if !strings.HasPrefix(c.Orchestrator.Host, "http://") && !strings.HasPrefix(c.Orchestrator.Host, "https://") {
		return errors.NewPermanentf("orchestrator host must start with http:// or https://: %s", c.Orchestrator.Host)
	}

	if c.Orchestrator.Timeout <= 0 {
		return errors.NewPermanentf("request timeout must be positive, got %s", c.Orchestrator.Timeout)
	}

	if c.Bulk.BatchSize <= 0 {
		return errors.NewPermanentf("bulk batch size must be positive, got %d", c.Bulk.BatchSize)
	}

	if c.Bulk.ReqPerSec < 0 {
		return errors.NewPermanentf("bulk request rate cannot be negative, got %d", c.Bulk.ReqPerSec)
	}

	if c.Bulk.PageSize <= 0 {
		return errors.NewPermanentf("material page size must be positive, got %d", c.Bulk.PageSize)
	}

	if c.History.Enabled && c.History.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required when trigger history is enabled")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func trimRightSlash(s string) string {
	return strings.TrimRight(s, "/")
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}
