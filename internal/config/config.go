package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every setting the saga services read from the environment.
type Config struct {
	AppEnv  string
	AppName string

	// BrokerAddr names the bus endpoint as host:port.
	BrokerAddr string

	DBHost                   string
	DBPort                   string
	DBUser                   string
	DBPassword               string
	DBName                   string
	DBSSLMode                string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	// DBConnectAttempts bounds the startup dial loop.
	DBConnectAttempts int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	HTTPPort    string
	MetricsPort string
	LogLevel    string

	// StepTimeout is the soft deadline for each saga step.
	StepTimeout time.Duration
	// CompensationMaxRetries bounds the compensation backoff schedule.
	CompensationMaxRetries int
}

// Load reads configuration from environment variables. BrokerAddr, the
// database settings and the Redis settings are required; everything else has
// a default.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		BrokerAddr:    os.Getenv("BROKER_ADDR"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     os.Getenv("DB_SSL_MODE"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		HTTPPort:      os.Getenv("HTTP_PORT"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}
	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DBMaxOpenConns = 25
	cfg.DBMaxIdleConns = 5
	cfg.DBConnMaxLifetimeMinutes = 30

	var err error
	cfg.DBConnectAttempts = 5
	if v := os.Getenv("DB_CONNECT_ATTEMPTS"); v != "" {
		cfg.DBConnectAttempts, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_CONNECT_ATTEMPTS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}

	cfg.StepTimeout = 10 * time.Minute
	if v := os.Getenv("SAGA_STEP_TIMEOUT"); v != "" {
		cfg.StepTimeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SAGA_STEP_TIMEOUT: %w", err)
		}
	}

	cfg.CompensationMaxRetries = 5
	if v := os.Getenv("COMPENSATION_MAX_RETRIES"); v != "" {
		cfg.CompensationMaxRetries, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid COMPENSATION_MAX_RETRIES: %w", err)
		}
	}

	if cfg.BrokerAddr == "" || cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" || cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}
