package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      int    `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`

	UploadDir      string        `mapstructure:"UPLOAD_DIR"`
	TempDir        string        `mapstructure:"TEMP_DIR"`
	MaxUploadBytes int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	UploadTimeout  time.Duration `mapstructure:"UPLOAD_TIMEOUT"`

	AllocMaxAttempts   int `mapstructure:"ALLOC_MAX_ATTEMPTS"`
	ProgressChunkBytes int `mapstructure:"PROGRESS_CHUNK_BYTES"`

	OrphanGrace       time.Duration `mapstructure:"ORPHAN_GRACE"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
}

var defaults = map[string]any{
	"PORT":                 "8080",
	"STORE_DRIVER":         DriverPostgres,
	"DB_PORT":              5432,
	"SQLITE_PATH":          "clipvault.db",
	"UPLOAD_DIR":           "uploads",
	"TEMP_DIR":             "",
	"MAX_UPLOAD_BYTES":     int64(2 << 30),
	"UPLOAD_TIMEOUT":       "30m",
	"ALLOC_MAX_ATTEMPTS":   32,
	"PROGRESS_CHUNK_BYTES": 64 << 10,
	"ORPHAN_GRACE":         "1h",
	"RECONCILE_INTERVAL":   "10m",
	"REDIS_DB":             0,
	"CORS_ORIGINS":         "*",
}

// plain env keys without defaults
var keys = []string{
	"DATABASE_URL", "DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"REDIS_ADDR", "REDIS_PASSWORD",
}

func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  Port: %s\n", c.Port))
	sb.WriteString(fmt.Sprintf("  StoreDriver: %s\n", c.StoreDriver))
	if c.DatabaseURL != "" {
		sb.WriteString("  DatabaseURL: ********\n")
	}
	sb.WriteString(fmt.Sprintf("  DBHost: %s\n", c.DBHost))
	sb.WriteString(fmt.Sprintf("  DBName: %s\n", c.DBName))
	if c.DBPassword != "" {
		sb.WriteString("  DBPassword: ********\n")
	} else {
		sb.WriteString("  DBPassword: (empty)\n")
	}
	sb.WriteString(fmt.Sprintf("  SQLitePath: %s\n", c.SQLitePath))
	sb.WriteString(fmt.Sprintf("  UploadDir: %s\n", c.UploadDir))
	sb.WriteString(fmt.Sprintf("  TempDir: %s\n", c.TempDir))
	sb.WriteString(fmt.Sprintf("  MaxUploadBytes: %d\n", c.MaxUploadBytes))
	sb.WriteString(fmt.Sprintf("  UploadTimeout: %s\n", c.UploadTimeout))
	sb.WriteString(fmt.Sprintf("  OrphanGrace: %s\n", c.OrphanGrace))
	sb.WriteString(fmt.Sprintf("  ReconcileInterval: %s\n", c.ReconcileInterval))
	sb.WriteString(fmt.Sprintf("  RedisAddr: %s\n", c.RedisAddr))
	return sb.String()
}

// LoadFromEnv reads the environment, preceded by ./.env when present.
func LoadFromEnv() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.New("failed to load .env")
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DSN() == "" {
			return errors.New("DATABASE_URL or DB_HOST/DB_NAME must be set for the postgres driver")
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// DSN prefers DATABASE_URL and falls back to the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" || c.DBName == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
