package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-askdb.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Pipeline limits and toggles
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Datasource the questions are answered against
	Datasource DatasourceConfig `yaml:"datasource"`

	// Text generation provider
	LLM LLMConfig `yaml:"llm"`

	// Redis persists schema snapshots across restarts (optional)
	Redis RedisConfig `yaml:"redis"`

	// Audit log storage
	Audit AuditConfig `yaml:"audit"`

	// Visualization defaults
	Visualization VisualizationConfig `yaml:"visualization"`

	// MCP tool surface
	MCP MCPConfig `yaml:"mcp"`
}

// PipelineConfig holds the knobs that bound every run.
type PipelineConfig struct {
	MaxQueryRows            int  `yaml:"max_query_rows" env:"MAX_QUERY_ROWS" env-default:"10000"`
	QueryTimeoutSeconds     int  `yaml:"query_timeout_seconds" env:"QUERY_TIMEOUT_SECONDS" env-default:"300"`
	AllowDestructiveQueries bool `yaml:"allow_destructive_queries" env:"ALLOW_DESTRUCTIVE_QUERIES" env-default:"false"`
	SchemaCacheTTLSeconds   int  `yaml:"schema_cache_ttl_seconds" env:"SCHEMA_CACHE_TTL_SECONDS" env-default:"3600"`
	MaxTablesInContext      int  `yaml:"max_tables_in_context" env:"MAX_TABLES_IN_CONTEXT" env-default:"10"`
	// MaxPriorTurns is how many prior conversation turns go into the prompt.
	MaxPriorTurns int `yaml:"max_prior_turns" env:"MAX_PRIOR_TURNS" env-default:"3"`
	// LargeTableRowThreshold triggers a full-scan cost warning.
	LargeTableRowThreshold int64 `yaml:"large_table_row_threshold" env:"LARGE_TABLE_ROW_THRESHOLD" env-default:"1000000"`
	// LowConfidenceThreshold triggers a warning when the generator is unsure.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" env:"LOW_CONFIDENCE_THRESHOLD" env-default:"0.6"`
}

// QueryTimeout returns the execution timeout as a duration.
func (p PipelineConfig) QueryTimeout() time.Duration {
	return time.Duration(p.QueryTimeoutSeconds) * time.Second
}

// SchemaCacheTTL returns the cache TTL as a duration.
func (p PipelineConfig) SchemaCacheTTL() time.Duration {
	return time.Duration(p.SchemaCacheTTLSeconds) * time.Second
}

// DatasourceConfig describes the analytical database.
type DatasourceConfig struct {
	// Type selects a registered adapter: postgres, mssql, duckdb.
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	ID       string `yaml:"id" env:"DATASOURCE_ID" env-default:"default"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:""`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:""`
	Schema   string `yaml:"schema" env:"DATASOURCE_SCHEMA" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"disable"`
	// Path is used by file-backed engines (duckdb).
	Path string `yaml:"path" env:"DATASOURCE_PATH" env-default:""`
	// PoolMaxConns bounds connections held by the execution stage.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// AnnotationsPath points at a YAML file of table descriptions and business terms.
	AnnotationsPath string `yaml:"annotations_path" env:"DATASOURCE_ANNOTATIONS_PATH" env-default:""`
}

// ToMap converts the datasource configuration to the generic adapter config map.
func (d DatasourceConfig) ToMap() map[string]any {
	return map[string]any{
		"host":           d.Host,
		"port":           d.Port,
		"user":           d.User,
		"password":       d.Password,
		"database":       d.Database,
		"schema":         d.Schema,
		"ssl_mode":       d.SSLMode,
		"path":           d.Path,
		"pool_max_conns": d.PoolMaxConns,
	}
}

// LLMConfig selects and tunes the text generation provider.
type LLMConfig struct {
	// Provider is openai or anthropic.
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4000"`
	MaxRetries  int     `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"3"`
}

// RedisConfig holds Redis connection settings. Empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AuditConfig selects where audit records go.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"AUDIT_ENABLED" env-default:"true"`
	// Store is postgres, sqlite or log.
	Store string `yaml:"store" env:"AUDIT_STORE" env-default:"log"`
	// SQLitePath is used when Store is sqlite.
	SQLitePath string `yaml:"sqlite_path" env:"AUDIT_SQLITE_PATH" env-default:"askdb_audit.db"`
	// Database is used when Store is postgres.
	Database DatabaseConfig `yaml:"database"`
	// MigrationsPath holds one directory of migrations per store dialect.
	MigrationsPath string `yaml:"migrations_path" env:"AUDIT_MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_askdb"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// VisualizationConfig holds chart defaults.
type VisualizationConfig struct {
	DefaultChartType string `yaml:"default_chart_type" env:"DEFAULT_CHART_TYPE" env-default:"bar"`
	MaxChartPoints   int    `yaml:"max_chart_points" env:"MAX_CHART_POINTS" env-default:"1000"`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"MCP_PATH" env-default:"/mcp"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from the given path. A missing file falls back
// to environment variables and defaults.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// Validate rejects limits that would make the pipeline unbounded.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.MaxQueryRows <= 0 {
		return fmt.Errorf("max_query_rows must be positive, got %d", p.MaxQueryRows)
	}
	if p.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("query_timeout_seconds must be positive, got %d", p.QueryTimeoutSeconds)
	}
	if p.SchemaCacheTTLSeconds <= 0 {
		return fmt.Errorf("schema_cache_ttl_seconds must be positive, got %d", p.SchemaCacheTTLSeconds)
	}
	if p.MaxTablesInContext <= 0 {
		return fmt.Errorf("max_tables_in_context must be positive, got %d", p.MaxTablesInContext)
	}
	if p.MaxPriorTurns < 0 {
		return fmt.Errorf("max_prior_turns must not be negative, got %d", p.MaxPriorTurns)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	switch c.Audit.Store {
	case "postgres", "sqlite", "log":
	default:
		return fmt.Errorf("unsupported audit store %q", c.Audit.Store)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
