// Package config provides configuration management for the registry auth
// service. It handles loading configuration from environment variables with
// sensible defaults and validates the configuration to ensure the service
// starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - TLS_CERT / TLS_KEY: Optional TLS certificate and key paths
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - SESSION_TTL: Expiry applied to session keys, e.g. "720h" (default: 0, no expiry)
//
// Bitbucket Configuration:
//   - BITBUCKET_CLIENT_ID: OAuth2 consumer key (required)
//   - BITBUCKET_CLIENT_SECRET: OAuth2 consumer secret (required)
//   - BITBUCKET_API_URL: Resource API base URL (default: https://api.bitbucket.org)
//   - BITBUCKET_OAUTH_URL: OAuth2 base URL (default: https://bitbucket.org)
//   - BITBUCKET_TEAM: Optional team restriction; when set, only members of
//     this team may authenticate and only its repositories may be authorized
//
// Registry Front Door:
//   - FRONTDOOR_HOST: Registry front door base URL for package metadata (required)
//   - SHARED_FETCH_SECRET: Secret passed to the front door on metadata fetches
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the registry auth service.
// All string fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	TLSCert  string // TLS certificate path (optional)
	TLSKey   string // TLS key path (optional)

	// Redis configuration for the shared session cache
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size
	SessionTTL    string // Expiry for session keys ("0" disables expiry)

	// Bitbucket identity provider configuration
	BitbucketClientID     string // OAuth2 consumer key
	BitbucketClientSecret string // OAuth2 consumer secret
	BitbucketAPIURL       string // Resource API base URL
	BitbucketOAuthURL     string // OAuth2 endpoint base URL
	BitbucketTeam         string // Optional restricting team

	// Registry front door configuration
	FrontDoorHost     string // Base URL for canonical package metadata
	SharedFetchSecret string // Secret for front door metadata fetches
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT", ""),
		TLSKey:   getEnv("TLS_KEY", ""),

		// Redis configuration
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
		SessionTTL:    getEnv("SESSION_TTL", "0"),

		// Bitbucket configuration
		BitbucketClientID:     getEnv("BITBUCKET_CLIENT_ID", ""),
		BitbucketClientSecret: getEnv("BITBUCKET_CLIENT_SECRET", ""),
		BitbucketAPIURL:       getEnv("BITBUCKET_API_URL", "https://api.bitbucket.org"),
		BitbucketOAuthURL:     getEnv("BITBUCKET_OAUTH_URL", "https://bitbucket.org"),
		BitbucketTeam:         getEnv("BITBUCKET_TEAM", ""),

		// Front door configuration
		FrontDoorHost:     getEnv("FRONTDOOR_HOST", ""),
		SharedFetchSecret: getEnv("SHARED_FETCH_SECRET", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid.
//
// Returns:
//   - error: A descriptive error if validation fails, nil if configuration is valid
func (c *Config) Validate() error {
	// Validate required fields
	if c.BitbucketClientID == "" {
		return fmt.Errorf("BITBUCKET_CLIENT_ID environment variable is required")
	}
	if c.BitbucketClientSecret == "" {
		return fmt.Errorf("BITBUCKET_CLIENT_SECRET environment variable is required")
	}
	if c.FrontDoorHost == "" {
		return fmt.Errorf("FRONTDOOR_HOST environment variable is required")
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	// Validate URLs
	for _, u := range []struct {
		name  string
		value string
	}{
		{"BITBUCKET_API_URL", c.BitbucketAPIURL},
		{"BITBUCKET_OAUTH_URL", c.BitbucketOAuthURL},
		{"FRONTDOOR_HOST", c.FrontDoorHost},
	} {
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", u.name)
		}
	}

	// Validate Redis config
	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}
	if _, err := c.ParsedSessionTTL(); err != nil {
		return fmt.Errorf("SESSION_TTL must be a valid duration (e.g. '720h' or '0')")
	}

	// TLS cert and key must be provided together
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must both be set to enable TLS")
	}

	return nil
}

// ParsedSessionTTL returns the session TTL as a duration. "0" means no expiry.
func (c *Config) ParsedSessionTTL() (time.Duration, error) {
	if c.SessionTTL == "" || c.SessionTTL == "0" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, fmt.Errorf("session TTL must not be negative")
	}
	return ttl, nil
}
