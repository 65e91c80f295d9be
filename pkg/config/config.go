// Package config loads layered configuration for the dispatch service: compiled-in
// defaults, an optional YAML file, then environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls user and agent bearer-token authentication.
type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	JWTAudience    string   `json:"jwt_audience" env:"AUTH_JWT_AUDIENCE"`
	AdminRoles     []string `json:"admin_roles" env:"AUTH_ADMIN_ROLES"`
	AgentTokenTTL  int      `json:"agent_token_ttl_seconds" env:"AUTH_AGENT_TOKEN_TTL_SECONDS"`
}

// DispatchConfig controls the Job Dispatcher's eligibility and reaper policy.
type DispatchConfig struct {
	MaxPullBatch        int  `json:"max_pull_batch" env:"DISPATCH_MAX_PULL_BATCH"`
	DefaultPollInterval int  `json:"default_poll_interval_seconds" env:"DISPATCH_POLL_INTERVAL_SECONDS"`
	ReaperEnabled       bool `json:"reaper_enabled" env:"DISPATCH_REAPER_ENABLED"`
	ReaperInterval      int  `json:"reaper_interval_seconds" env:"DISPATCH_REAPER_INTERVAL_SECONDS"`
	ReaperGraceSeconds  int  `json:"reaper_grace_seconds" env:"DISPATCH_REAPER_GRACE_SECONDS"`
}

// PollInterval returns the configured poll interval as a time.Duration.
func (d DispatchConfig) PollInterval() time.Duration {
	return time.Duration(d.DefaultPollInterval) * time.Second
}

// ReaperTick returns the configured reaper tick interval as a time.Duration.
func (d DispatchConfig) ReaperTick() time.Duration {
	return time.Duration(d.ReaperInterval) * time.Second
}

// ReaperGrace returns the configured reaper grace period as a time.Duration.
func (d DispatchConfig) ReaperGrace() time.Duration {
	return time.Duration(d.ReaperGraceSeconds) * time.Second
}

// TokenTTL returns the configured agent token lifetime as a time.Duration.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.AgentTokenTTL) * time.Second
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig    `json:"server"`
	Database DatabaseConfig  `json:"database"`
	Logging  LoggingConfig   `json:"logging"`
	Auth     AuthConfig      `json:"auth"`
	Dispatch DispatchConfig  `json:"dispatch"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "lattice-core",
		},
		Auth: AuthConfig{
			AgentTokenTTL: 86400,
		},
		Dispatch: DispatchConfig{
			MaxPullBatch:        5,
			DefaultPollInterval: 15,
			ReaperEnabled:       false,
			ReaperInterval:      30,
			ReaperGraceSeconds:  60,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride aligns config loading with cmd/appserver: DATABASE_URL
// overrides any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
