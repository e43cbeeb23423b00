package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	BackendMemory        = "memory"
	BackendRedisPostgres = "redis-postgres"
)

type Config struct {
	ServerPort   string
	StoreBackend string
	DatabaseURL  string
	RedisURL     string
	CacheTTL     time.Duration
}

func LoadConfig() (*Config, error) {
	ttlStr := getEnv("CACHE_TTL", "5s")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		return nil, errors.New("invalid CACHE_TTL format")
	}

	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		CacheTTL:     ttl,
	}

	// Validate required fields
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedisPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
