//go:build duckdb || all_adapters

package duckdb

import (
	"fmt"
	"net/url"
	"strconv"
)

const defaultPoolMaxConns = 4

// Config describes a DuckDB database file.
type Config struct {
	Path         string // empty opens an in-memory database
	ReadOnly     bool
	Threads      int
	Schema       string
	PoolMaxConns int
}

// FromMap builds a Config. Files open read-only unless read_only is false.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{ReadOnly: true, PoolMaxConns: defaultPoolMaxConns}

	cfg.Path, _ = config["path"].(string)
	if ro, ok := config["read_only"].(bool); ok {
		cfg.ReadOnly = ro
	}
	if cfg.Path == "" {
		// An in-memory database cannot be opened read-only.
		cfg.ReadOnly = false
	}
	cfg.Schema, _ = config["schema"].(string)

	if n, ok := intValue(config["threads"]); ok {
		if n < 0 {
			return nil, fmt.Errorf("threads must not be negative, got %d", n)
		}
		cfg.Threads = n
	}
	if n, ok := intValue(config["pool_max_conns"]); ok {
		if n <= 0 {
			return nil, fmt.Errorf("pool_max_conns must be positive, got %d", n)
		}
		cfg.PoolMaxConns = n
	}
	return cfg, nil
}

// DSN renders the go-duckdb data source name.
func (c *Config) DSN() string {
	params := url.Values{}
	if c.ReadOnly {
		params.Set("access_mode", "READ_ONLY")
	}
	if c.Threads > 0 {
		params.Set("threads", strconv.Itoa(c.Threads))
	}
	if len(params) == 0 {
		return c.Path
	}
	return c.Path + "?" + params.Encode()
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
