package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	PolicyPath       string
	PolicyBundlePath string

	AdminAPIKey string

	ReconcileIntervalSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitMaxKeys int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                 addr,
		PostgresDSN:              os.Getenv("POSTGRES_DSN"),
		LogLevel:                 envDefault("LOG_LEVEL", "info"),
		PolicyPath:               envDefault("TRUST_POLICY_PATH", "trust_policy.json"),
		PolicyBundlePath:         os.Getenv("POLICY_BUNDLE_PATH"),
		AdminAPIKey:              os.Getenv("ADMIN_API_KEY"),
		ReconcileIntervalSeconds: envIntDefault("RECONCILE_INTERVAL_SECONDS", 300),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  envIntDefault("REDIS_DB", 0),
		RateLimitMaxKeys:         envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (c Config) ReconcileInterval() time.Duration {
	if c.ReconcileIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}
