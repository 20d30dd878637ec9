// Package config loads service configuration from an optional YAML file
// overridden by environment variables, then validates the whole set in one
// pass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Log       LogConfig       `yaml:"log"`
	Security  SecurityConfig  `yaml:"security"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Backup    BackupConfig    `yaml:"backup"`
}

type ServerConfig struct {
	Env  string `yaml:"env"`  // dev, staging, production
	Port string `yaml:"port"`
}

type DataConfig struct {
	Dir          string `yaml:"dir"`
	BackupsDir   string `yaml:"backups_dir"`
	AuditLogFile string `yaml:"audit_log_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

type SecurityConfig struct {
	JWTSecret            string `yaml:"jwt_secret"`
	JWTExpMinutes        int    `yaml:"jwt_exp_minutes"`
	AdminDefaultPassword string `yaml:"admin_default_password"`
}

type StoreConfig struct {
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
}

type RateLimitConfig struct {
	MaxPerUsername int `yaml:"max_per_username"`
	MaxPerIP       int `yaml:"max_per_ip"`
	WindowSeconds  int `yaml:"window_seconds"`
}

type BackupConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// LoadConfig reads CONFIG_FILE (when set) and then applies environment
// variable overrides on top.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.Env = getEnv("ENV", fallback(cfg.Server.Env, "dev"))
	cfg.Server.Port = getEnv("PORT", fallback(cfg.Server.Port, "8000"))

	cfg.Data.Dir = getEnv("DATA_DIR", fallback(cfg.Data.Dir, "./data"))
	cfg.Data.BackupsDir = getEnv("BACKUPS_DIR", fallback(cfg.Data.BackupsDir, "./backups"))
	cfg.Data.AuditLogFile = getEnv("AUDIT_LOG_FILE", fallback(cfg.Data.AuditLogFile, "./data/audit.log"))

	cfg.Log.Level = getEnv("LOG_LEVEL", fallback(cfg.Log.Level, "info"))
	cfg.Log.Format = getEnv("LOG_FORMAT", fallback(cfg.Log.Format, "console"))

	cfg.Security.JWTSecret = getEnv("JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.JWTExpMinutes = getEnvInt("JWT_EXP_MINUTES", fallbackInt(cfg.Security.JWTExpMinutes, 480))
	cfg.Security.AdminDefaultPassword = getEnv("ADMIN_DEFAULT_PASSWORD", cfg.Security.AdminDefaultPassword)

	cfg.Store.LockTimeoutSeconds = getEnvInt("STORE_LOCK_TIMEOUT", fallbackInt(cfg.Store.LockTimeoutSeconds, 10))

	cfg.RateLimit.MaxPerUsername = getEnvInt("RATE_LIMIT_MAX_PER_USERNAME", fallbackInt(cfg.RateLimit.MaxPerUsername, 5))
	cfg.RateLimit.MaxPerIP = getEnvInt("RATE_LIMIT_MAX_PER_IP", fallbackInt(cfg.RateLimit.MaxPerIP, 20))
	cfg.RateLimit.WindowSeconds = getEnvInt("RATE_LIMIT_WINDOW_SECONDS", fallbackInt(cfg.RateLimit.WindowSeconds, 300))

	cfg.Backup.RetentionDays = getEnvInt("BACKUP_RETENTION_DAYS", fallbackInt(cfg.Backup.RetentionDays, 14))

	return cfg, nil
}

// ValidateConfig collects every problem into a single error so operators fix
// the whole file at once.
func ValidateConfig(cfg *Config) error {
	var errors []string

	if cfg.Security.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.Security.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters long")
	}

	if cfg.Server.Env == "production" {
		if cfg.Security.AdminDefaultPassword == "" {
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD is required in production environment")
		} else if len(cfg.Security.AdminDefaultPassword) < 8 {
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD must be at least 8 characters long in production")
		}
		switch cfg.Security.AdminDefaultPassword {
		case "admin123", "changeme", "password":
			errors = append(errors, "ADMIN_DEFAULT_PASSWORD cannot be a weak/default password in production")
		}
	}

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	if cfg.Security.JWTExpMinutes < 1 {
		errors = append(errors, "JWT_EXP_MINUTES must be positive")
	}
	if cfg.Store.LockTimeoutSeconds < 1 {
		errors = append(errors, "STORE_LOCK_TIMEOUT must be positive")
	}
	if cfg.RateLimit.MaxPerUsername < 1 || cfg.RateLimit.MaxPerIP < 1 || cfg.RateLimit.WindowSeconds < 1 {
		errors = append(errors, "rate limit settings must be positive")
	}
	if cfg.Backup.RetentionDays < 1 {
		errors = append(errors, "BACKUP_RETENTION_DAYS must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr returns the listen address.
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// TokenTTL returns the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.JWTExpMinutes) * time.Minute
}

// LockTimeout returns the bounded store lock acquisition timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Store.LockTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the sliding window for login throttling.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func fallbackInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
