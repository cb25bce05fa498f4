// Package config loads service settings from .env and the environment.
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

// ErrMissing is returned when a setting required by the selected drivers is empty.
var ErrMissing = errors.New("missing configuration")

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRemote   = "remote"
)

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type Store struct {
	// Driver is postgres, memory or remote.
	Driver           string
	RemoteURL        string
	RemoteToken      string
	SharedCollection string
}

type Redis struct {
	// Addr empty keeps sweep reports in memory.
	Addr     string
	Password string
	DB       int
}

type JWT struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Sync struct {
	Enabled  bool
	Interval time.Duration
}

type Log struct {
	Level string
	File  string
}

type Workspace struct {
	CacheSize int
	CacheTTL  time.Duration
}

type Config struct {
	HTTPAddr  string
	DB        Database
	Store     Store
	Redis     Redis
	JWT       JWT
	Sync      Sync
	Log       Log
	Workspace Workspace
}

// Load reads .env unless ENV_CHEK is set, then the environment.
func Load() (*Config, error) {
	if os.Getenv("ENV_CHEK") == "" {
		// A missing .env is fine; the environment may carry everything.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("SHARED_COLLECTION", "shared")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ACCESS_TTL", 15*time.Minute)
	v.SetDefault("JWT_REFRESH_TTL", 7*24*time.Hour)
	v.SetDefault("SYNC_ENABLED", true)
	v.SetDefault("SYNC_INTERVAL_HOURS", 2)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WORKSPACE_CACHE_SIZE", 128)
	v.SetDefault("WORKSPACE_CACHE_TTL", 30*time.Minute)
	return v
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddr: v.GetString("HTTP_ADDR"),
		DB: Database{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Store: Store{
			Driver:           strings.ToLower(v.GetString("STORE_DRIVER")),
			RemoteURL:        v.GetString("STORE_REMOTE_URL"),
			RemoteToken:      v.GetString("STORE_REMOTE_TOKEN"),
			SharedCollection: v.GetString("SHARED_COLLECTION"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWT{
			AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
			RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
			AccessTTL:     v.GetDuration("JWT_ACCESS_TTL"),
			RefreshTTL:    v.GetDuration("JWT_REFRESH_TTL"),
		},
		Sync: Sync{
			Enabled:  v.GetBool("SYNC_ENABLED"),
			Interval: time.Duration(v.GetInt("SYNC_INTERVAL_HOURS")) * time.Hour,
		},
		Log: Log{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
		Workspace: Workspace{
			CacheSize: v.GetInt("WORKSPACE_CACHE_SIZE"),
			CacheTTL:  v.GetDuration("WORKSPACE_CACHE_TTL"),
		},
	}
	if cfg.Store.Driver == DriverMemory {
		if cfg.JWT.AccessSecret == "" {
			cfg.JWT.AccessSecret = "memory-access-secret"
		}
		if cfg.JWT.RefreshSecret == "" {
			cfg.JWT.RefreshSecret = "memory-refresh-secret"
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that make the service unable to start.
func (c *Config) Validate() error {
	var missing []string
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	case DriverRemote:
		if c.Store.RemoteURL == "" {
			missing = append(missing, "STORE_REMOTE_URL")
		}
		if c.Store.RemoteToken == "" {
			missing = append(missing, "STORE_REMOTE_TOKEN")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	// Owner accounts live in Postgres unless everything runs in memory.
	if c.Store.Driver != DriverMemory {
		if c.DB.User == "" {
			missing = append(missing, "DB_USER")
		}
		if c.DB.Name == "" {
			missing = append(missing, "DB_NAME")
		}
	}
	if c.JWT.AccessSecret == "" {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	if c.JWT.RefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL_HOURS must be positive")
	}
	if c.Store.SharedCollection == "" {
		missing = append(missing, "SHARED_COLLECTION")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}
