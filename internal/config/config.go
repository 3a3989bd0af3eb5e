package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	StoreDriver             string
	SeedDemoData            bool
	MongoURI                string
	MongoDatabase           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	SnapshotCacheTTLSeconds int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	AdminUsername           string
	AdminPassword           string
	Timezone                string
	Location                *time.Location
	LogLevel                string
	LogDevelopment          bool
	BreakerEnabled          bool
}

// Load reads the environment. Unset numeric values and values below one
// fall back to their defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "opsledger")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SNAPSHOT_CACHE_TTL_SECONDS", 300)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("BREAKER_ENABLED", true)
	v.AutomaticEnv()

	cfg := Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		StoreDriver:             strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		SeedDemoData:            v.GetBool("SEED_DEMO_DATA"),
		MongoURI:                v.GetString("MONGO_URI"),
		MongoDatabase:           v.GetString("MONGO_DATABASE"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		SnapshotCacheTTLSeconds: positive(v.GetInt("SNAPSHOT_CACHE_TTL_SECONDS"), 300),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		AdminUsername:           strings.TrimSpace(v.GetString("ADMIN_USERNAME")),
		AdminPassword:           v.GetString("ADMIN_PASSWORD"),
		Timezone:                strings.TrimSpace(v.GetString("TIMEZONE")),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogDevelopment:          v.GetBool("LOG_DEVELOPMENT"),
		BreakerEnabled:          v.GetBool("BREAKER_ENABLED"),
	}

	switch cfg.StoreDriver {
	case DriverMemory, DriverMongo, DriverPostgres:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("load TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SnapshotCacheTTL() time.Duration {
	return time.Duration(c.SnapshotCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func positive(value int, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}
