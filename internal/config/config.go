package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	Port    string
	BaseURL string

	DatabaseURL string
	RedisURL    string

	SessionSecret      string
	JWTSecret          string
	TokenEncryptionKey string

	ProviderClientID     string
	ProviderClientSecret string
	ProviderProjectID    string
	ProviderEnvironment  string
	ProviderAuthorizeURL string
	ProviderTokenURL     string

	CatalogPath string

	BootstrapUsername string
	BootstrapPassword string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Best-effort .env load for local development.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		TokenEncryptionKey:   getEnv("TOKEN_ENCRYPTION_KEY", ""),
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderProjectID:    getEnv("PROVIDER_PROJECT_ID", ""),
		ProviderEnvironment:  getEnv("PROVIDER_ENVIRONMENT", "development"),
		ProviderAuthorizeURL: getEnv("PROVIDER_AUTHORIZE_URL", "https://api.pipedream.com/oauth/authorize"),
		ProviderTokenURL:     getEnv("PROVIDER_TOKEN_URL", "https://api.pipedream.com/oauth/access_token"),
		CatalogPath:          getEnv("CATALOG_PATH", ""),
		BootstrapUsername:    getEnv("BOOTSTRAP_USERNAME", ""),
		BootstrapPassword:    getEnv("BOOTSTRAP_PASSWORD", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ProviderClientID == "" {
		return nil, fmt.Errorf("PROVIDER_CLIENT_ID is required")
	}
	if cfg.ProviderClientSecret == "" {
		return nil, fmt.Errorf("PROVIDER_CLIENT_SECRET is required")
	}

	// Bootstrap credentials must be set together.
	if (cfg.BootstrapUsername == "") != (cfg.BootstrapPassword == "") {
		return nil, fmt.Errorf("BOOTSTRAP_USERNAME and BOOTSTRAP_PASSWORD must be set together")
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
