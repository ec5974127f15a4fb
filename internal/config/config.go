// Package config provides hierarchical configuration loading for tenantd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the provisioning control plane.
type Config struct {
	Server   Server   `yaml:"server"`
	Auth     Auth     `yaml:"auth"`
	Bench    Bench    `yaml:"bench"`
	Frontend Frontend `yaml:"frontend"`
	Ports    Ports    `yaml:"ports"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Cache    Cache    `yaml:"cache"`
	Logging  Logging  `yaml:"logging"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Auth holds the shared admin secret required on every non-health endpoint.
type Auth struct {
	AdminAPIKey string `yaml:"admin_api_key"`
}

// Bench holds site-lifecycle CLI configuration.
type Bench struct {
	Path           string        `yaml:"path"`
	DBRootPassword string        `yaml:"db_root_password"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// Frontend holds per-tenant reverse-proxy container configuration.
type Frontend struct {
	Image         string `yaml:"image"`
	Network       string `yaml:"network"`
	SitesVolume   string `yaml:"sites_volume"`
	BackendHost   string `yaml:"backend_host"`
	WebsocketHost string `yaml:"websocket_host"`
}

// Ports holds the legacy port-assignment table consulted when a tenant is
// created without a dedicated frontend. Table maps site name to host port.
type Ports struct {
	DefaultPublish int            `yaml:"default_publish"`
	Table          map[string]int `yaml:"table"`
}

// Postgres holds the shared database server connection used for readiness
// probing. Optional: an empty DSN disables the probe.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the lifecycle event stream configuration. Optional: an empty
// URL disables event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Cache holds tenant-list snapshot cache configuration.
type Cache struct {
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	MaxSizeMB   int64         `yaml:"max_size_mb"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Defaults returns a Config with sensible default values for the standard
// single-host deployment.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "9090",
		},
		Bench: Bench{
			Path:           "/home/frappe/frappe-bench",
			CommandTimeout: 120 * time.Second,
			MaxConcurrent:  4,
		},
		Frontend: Frontend{
			Image:         "frappe/erpnext:version-15",
			Network:       "frappe_docker_default",
			SitesVolume:   "frappe_docker_sites",
			BackendHost:   "backend:8000",
			WebsocketHost: "websocket:9000",
		},
		Ports: Ports{
			DefaultPublish: 8080,
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Cache: Cache{
			SnapshotTTL: 5 * time.Second,
			MaxSizeMB:   16,
		},
		Logging: Logging{
			Level:   "info",
			Service: "tenantd",
		},
	}
}
