package mssql

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	defaultPort              = 1433
	defaultConnectionTimeout = 30
	defaultPoolMaxConns      = 10
)

// Auth methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Schema   string // optional filter; empty means every user schema

	AuthMethod string

	// SQL authentication
	Username string
	Password string

	// Azure AD service principal
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
	PoolMaxConns           int
}

// FromMap creates a Config from a datasource config map and auto-detects the
// auth method when none is given.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              defaultPort,
		Encrypt:           true,
		ConnectionTimeout: defaultConnectionTimeout,
		PoolMaxConns:      defaultPoolMaxConns,
	}

	host, ok := config["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.Host = host

	if port, ok := intValue(config["port"]); ok {
		cfg.Port = port
	}

	database, ok := config["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Database = database

	if schema, ok := config["schema"].(string); ok {
		cfg.Schema = schema
	}

	switch v := config["encrypt"].(type) {
	case bool:
		cfg.Encrypt = v
	case string:
		cfg.Encrypt = v == "true" || v == "strict"
	}
	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}
	if timeout, ok := intValue(config["connection_timeout"]); ok {
		cfg.ConnectionTimeout = timeout
	}
	if maxConns, ok := intValue(config["pool_max_conns"]); ok {
		if maxConns <= 0 {
			return nil, fmt.Errorf("pool_max_conns must be positive, got %d", maxConns)
		}
		cfg.PoolMaxConns = maxConns
	}

	if method, ok := config["auth_method"].(string); ok && method != "" {
		cfg.AuthMethod = method
	} else if _, ok := config["client_id"].(string); ok {
		cfg.AuthMethod = AuthServicePrincipal
	} else if user, ok := config["user"].(string); ok && user != "" {
		cfg.AuthMethod = AuthSQL
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		user, ok := config["user"].(string)
		if !ok || user == "" {
			return nil, fmt.Errorf("user is required for SQL authentication")
		}
		cfg.Username = user
		cfg.Password, _ = config["password"].(string)
	case AuthServicePrincipal:
		for key, dst := range map[string]*string{
			"tenant_id":     &cfg.TenantID,
			"client_id":     &cfg.ClientID,
			"client_secret": &cfg.ClientSecret,
		} {
			v, ok := config[key].(string)
			if !ok || v == "" {
				return nil, fmt.Errorf("%s is required for service principal authentication", key)
			}
			*dst = v
		}
	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", cfg.AuthMethod)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	return cfg, nil
}

// DriverName is the database/sql driver to open for this auth method.
func (c *Config) DriverName() string {
	if c.AuthMethod == AuthServicePrincipal {
		return "azuresql"
	}
	return "sqlserver"
}

// ConnectionString builds a sqlserver:// URL for the configured auth method.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", strconv.FormatBool(c.Encrypt))
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}
	query.Add("app name", "ekaya-askdb")

	if c.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", c.ClientID+"@"+c.TenantID)
		query.Add("password", c.ClientSecret)
		return fmt.Sprintf("sqlserver://%s:%d?%s", c.Host, c.Port, query.Encode())
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64: // JSON numbers
		return int(n), true
	}
	return 0, false
}
