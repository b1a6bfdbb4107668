package config

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	ConfigPath    string
	Orchestrator  OrchestratorConfig
	Bulk          BulkConfig
	History       HistoryConfig
	Policy        PolicyConfig
	Observability ObservabilityConfig
}

// OrchestratorConfig configures the orchestrator API client
type OrchestratorConfig struct {
	Host      string
	BasePath  string
	Token     string
	Timeout   time.Duration
	LoginPath string
}

// BaseURL joins host and base path.
func (o OrchestratorConfig) BaseURL() string {
	return trimRightSlash(o.Host) + "/" + trimSlashes(o.BasePath)
}

// BulkConfig configures the bulk deployment fan-out
type BulkConfig struct {
	BatchSize int
	ReqPerSec int
	PageSize  int
}

// HistoryConfig configures the trigger history store
type HistoryConfig struct {
	Enabled    bool
	SQLitePath string
}

// PolicyConfig configures local evaluation of resource filters
type PolicyConfig struct {
	ExplainFilters bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsTextfile string
}

// FileDefaults is the shape of cdpilot.yml. Environment variables win over
// anything set here.
type FileDefaults struct {
	Orchestrator struct {
		Host      string `yaml:"host"`
		BasePath  string `yaml:"basePath"`
		Timeout   string `yaml:"timeout,omitempty"`
		LoginPath string `yaml:"loginPath,omitempty"`
	} `yaml:"orchestrator"`
	Bulk struct {
		BatchSize int `yaml:"batchSize,omitempty"`
		ReqPerSec int `yaml:"reqPerSec,omitempty"`
		PageSize  int `yaml:"pageSize,omitempty"`
	} `yaml:"bulk"`
	History struct {
		Enabled    *bool  `yaml:"enabled,omitempty"`
		SQLitePath string `yaml:"sqlitePath,omitempty"`
	} `yaml:"history"`
	Policy struct {
		ExplainFilters bool `yaml:"explainFilters,omitempty"`
	} `yaml:"policy"`
	LogLevel string `yaml:"logLevel,omitempty"`
}
