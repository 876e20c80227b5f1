package config

import (
	"context"
	"os"
	"strings"
)

// StoreType selects the progress store backend.
type StoreType string

const (
	// PostgresStore uses the PostgreSQL-backed store.
	PostgresStore StoreType = "postgres"
	// MemoryStore uses the in-memory store (mock mode).
	MemoryStore StoreType = "memory"
)

// Config holds the engine's runtime configuration, read from environment
// variables with local-development defaults.
type Config struct {
	Store            StoreType
	ConnectionString string
	RemoteAPIURL     string
	MinimumVersion   string
}

// Load returns the configuration based on environment variables.
func Load() Config {
	cfg := Config{
		Store:            PostgresStore,
		ConnectionString: getConnectionString(),
		RemoteAPIURL:     getRemoteAPIURL(),
		MinimumVersion:   getMinimumVersion(),
	}
	switch strings.ToLower(os.Getenv("ONBOARDING_STORE_TYPE")) {
	case "memory", "mock":
		cfg.Store = MemoryStore
	}
	return cfg
}

// IsMockMode returns true if running against the in-memory store.
func IsMockMode() bool {
	storeType := os.Getenv("ONBOARDING_STORE_TYPE")
	return strings.EqualFold(storeType, "memory") || strings.EqualFold(storeType, "mock")
}

func getConnectionString() string {
	connStr := os.Getenv("DB_CONN_STRING")
	if connStr == "" {
		// Default connection string for local development
		return "postgres://localhost:5432/postgres?sslmode=disable"
	}
	return connStr
}

func getRemoteAPIURL() string {
	url := os.Getenv("ONBOARDING_API_URL")
	if url == "" {
		return "http://127.0.0.1:3001"
	}
	return url
}

func getMinimumVersion() string {
	v := os.Getenv("INTEGRATION_MIN_VERSION")
	if v == "" {
		return "8.0.0"
	}
	return v
}

// EnvIntegration reads the integration gate from the environment: the
// integration is active unless INTEGRATION_ACTIVE=false, and it reports
// INTEGRATION_VERSION, defaulting to the minimum.
type EnvIntegration struct{}

// Active reports whether the integration is enabled.
func (EnvIntegration) Active(context.Context) bool {
	return !strings.EqualFold(os.Getenv("INTEGRATION_ACTIVE"), "false")
}

// Version reports the installed integration version.
func (EnvIntegration) Version(context.Context) string {
	if v := os.Getenv("INTEGRATION_VERSION"); v != "" {
		return v
	}
	return getMinimumVersion()
}
