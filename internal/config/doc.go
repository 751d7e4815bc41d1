// Package config handles configuration loading for walletgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WALLETGATE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/walletgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WALLETGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//	  challenge_ttl: "5m"
//	  sweep_interval: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//	  rate_limit:
//	    enabled: true
//	    per_second: 5
//	    burst: 10
//
// Database (sqlite or postgres):
//
//	database:
//	  driver: "sqlite"
//	  path: "/var/lib/walletgate/walletgate.db"
//	  # driver: "postgres"
//	  # dsn: "${WALLETGATE_DATABASE_DSN}"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${WALLETGATE_JWT_SECRET}"  # required, >= 32 bytes
//	  issuer: "walletgate"
//	  audience: "walletgate"                  # named in challenge messages
//	  token_ttl: "24h"
//	  challenge_ttl: "5m"
//	  sweep_interval: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - JWT secret minimum length (32 bytes)
//   - Database driver/path/DSN consistency
//   - Duration format validity
//   - Rate limit parameters when enabled
//
// # Usage
//
//	cfg, err := config.Load("/etc/walletgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
