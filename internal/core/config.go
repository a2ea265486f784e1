package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the demo service-provider configuration
type Config struct {
	// Environment (development, demo, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs (callback, logout)
	BaseURL string

	// CAS server base URL, e.g. https://cas.example.org/cas
	CasServerURL string

	// CAS validation protocol version (1, 2 or 3)
	ProtocolVersion int

	// Path the CAS server redirects back to after login
	CallbackPath string

	// HMAC key protecting the handshake state parameter
	StateKey string

	// Session lifetime for stored sign-ins
	SessionTTL time.Duration

	// SQLite database path; empty selects the in-memory store
	DatabasePath string

	// CORS allowed origins
	CORSOrigins []string

	// Serve a mock CAS server under /cas and log in against it
	MockCasEnabled bool

	// Enable debug logging
	Debug bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() *Config {
	cfg := &Config{
		Environment:     getEnv("CASCADE_ENV", "development"),
		ListenAddr:      getEnv("CASCADE_LISTEN_ADDR", ":8080"),
		BaseURL:         getEnv("CASCADE_BASE_URL", "http://localhost:8080"),
		CasServerURL:    getEnv("CASCADE_CAS_URL", "https://cas.example.org/cas"),
		ProtocolVersion: getEnvInt("CASCADE_CAS_VERSION", 3),
		CallbackPath:    getEnv("CASCADE_CALLBACK_PATH", "/auth/callback"),
		StateKey:        getEnv("CASCADE_STATE_KEY", ""),
		SessionTTL:      getEnvDuration("CASCADE_SESSION_TTL", 8*time.Hour),
		DatabasePath:    getEnv("CASCADE_DB_PATH", ""),
		CORSOrigins:     getEnvList("CASCADE_CORS_ORIGINS", []string{"http://localhost:3000"}),
		MockCasEnabled:  getEnvBool("CASCADE_MOCK_CAS", false),
		Debug:           getEnvBool("CASCADE_DEBUG", false),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}
