package postgres

import (
	"fmt"
	"net/url"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	Schema       string // optional; restricts introspection to one schema
	SSLMode      string // "disable", "require", "verify-ca", "verify-full"
	PoolMaxConns int32
}

const (
	defaultPort         = 5432
	defaultSSLMode      = "require"
	defaultPoolMaxConns = 10
)

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:         defaultPort,
		SSLMode:      defaultSSLMode,
		PoolMaxConns: defaultPoolMaxConns,
	}

	host, ok := config["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.Host = host

	switch port := config["port"].(type) {
	case float64: // JSON numbers
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	}

	user, ok := config["user"].(string)
	if !ok || user == "" {
		return nil, fmt.Errorf("user is required")
	}
	cfg.User = user

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	database, ok := config["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Database = database

	if schema, ok := config["schema"].(string); ok {
		cfg.Schema = schema
	}
	if sslMode, ok := config["ssl_mode"].(string); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}
	switch n := config["pool_max_conns"].(type) {
	case int32:
		cfg.PoolMaxConns = n
	case int:
		cfg.PoolMaxConns = int32(n)
	case float64:
		cfg.PoolMaxConns = int32(n)
	}
	if cfg.PoolMaxConns <= 0 {
		return nil, fmt.Errorf("pool_max_conns must be positive")
	}

	return cfg, nil
}

// ConnectionString builds a PostgreSQL URL. Every user-provided field is
// escaped so passwords containing @, /, # or ? survive URL parsing.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}
