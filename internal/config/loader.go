package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenantd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config. The names match
// the compose environment of the standard deployment.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ADMIN_API_PORT")
	setString(&cfg.Auth.AdminAPIKey, "ADMIN_API_KEY")
	setString(&cfg.Bench.Path, "TENANTD_BENCH_PATH")
	setString(&cfg.Bench.DBRootPassword, "DB_PASSWORD")
	setDuration(&cfg.Bench.CommandTimeout, "TENANTD_COMMAND_TIMEOUT")
	setInt(&cfg.Bench.MaxConcurrent, "TENANTD_MAX_CONCURRENT")
	setString(&cfg.Frontend.Image, "FRONTEND_IMAGE")
	setString(&cfg.Frontend.Network, "DOCKER_NETWORK")
	setString(&cfg.Frontend.SitesVolume, "DOCKER_SITES_VOLUME")
	setString(&cfg.Frontend.BackendHost, "TENANTD_BACKEND_HOST")
	setString(&cfg.Frontend.WebsocketHost, "TENANTD_WEBSOCKET_HOST")
	setInt(&cfg.Ports.DefaultPublish, "HTTP_PUBLISH_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TENANTD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TENANTD_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.Cache.SnapshotTTL, "TENANTD_CACHE_TTL")
	setInt64(&cfg.Cache.MaxSizeMB, "TENANTD_CACHE_SIZE_MB")
	setString(&cfg.Logging.Level, "TENANTD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANTD_LOG_SERVICE")

	loadPortTable(cfg)
}

// loadPortTable merges the legacy single-proxy port assignments into
// cfg.Ports.Table. Three sources, in order:
//   - FRAPPE_SITE_NAME_HEADER maps to the default publish port
//   - TENANT2_SITE_NAME/TENANT2_HTTP_PORT and TENANT3_* pairs
//   - TENANT_PORTS, a "site:port,site:port" list
func loadPortTable(cfg *Config) {
	if cfg.Ports.Table == nil {
		cfg.Ports.Table = make(map[string]int)
	}

	if site := os.Getenv("FRAPPE_SITE_NAME_HEADER"); site != "" {
		cfg.Ports.Table[site] = cfg.Ports.DefaultPublish
	}

	pairs := []struct {
		siteKey  string
		portKey  string
		fallback int
	}{
		{"TENANT2_SITE_NAME", "TENANT2_HTTP_PORT", 8081},
		{"TENANT3_SITE_NAME", "TENANT3_HTTP_PORT", 8082},
	}
	for _, p := range pairs {
		site := os.Getenv(p.siteKey)
		if site == "" {
			continue
		}
		port := p.fallback
		setInt(&port, p.portKey)
		cfg.Ports.Table[site] = port
	}

	for _, pair := range strings.Split(os.Getenv("TENANT_PORTS"), ",") {
		pair = strings.TrimSpace(pair)
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 {
			continue
		}
		site := strings.TrimSpace(pair[:idx])
		port, err := strconv.Atoi(strings.TrimSpace(pair[idx+1:]))
		if err != nil || site == "" || port < 1 || port > 65535 {
			continue
		}
		cfg.Ports.Table[site] = port
	}
}

// validate checks that required fields are set. The admin key and the DB
// root password have no usable defaults; refusing to start beats running
// an unauthenticated provisioning API.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Auth.AdminAPIKey == "" {
		return errors.New("auth.admin_api_key is required (ADMIN_API_KEY)")
	}
	if cfg.Bench.DBRootPassword == "" {
		return errors.New("bench.db_root_password is required (DB_PASSWORD)")
	}
	if cfg.Bench.CommandTimeout < time.Second {
		return errors.New("bench.command_timeout must be >= 1s")
	}
	if cfg.Bench.MaxConcurrent < 1 {
		return errors.New("bench.max_concurrent must be >= 1")
	}
	if cfg.Ports.DefaultPublish < 1 || cfg.Ports.DefaultPublish > 65535 {
		return errors.New("ports.default_publish must be 1-65535")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
