// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates service configuration from the
// environment, with optional overrides from a YAML file and Heroku-style
// composite URLs (DATABASE_URL, CACHE_URL) taking precedence over component
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names recognised by the service.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Defaults for recognised options.
const (
	DefaultPort            = 3000
	DefaultDBPort          = 3306
	DefaultCacheHost       = "localhost"
	DefaultCachePort       = 6379
	DefaultLLMModel        = "gpt-3.5-turbo"
	DefaultLLMTimeout      = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultAcquireTimeout  = 60 * time.Second
	DefaultPoolMax         = 5
	DefaultSearchCacheTTL  = 300 * time.Second
	DefaultRateLimitWindow = 15 * time.Minute
	DefaultRateLimitMax    = 100

	// JWT secrets shorter than this are rejected outside the test environment.
	minJWTSecretLen     = 32
	minJWTSecretLenTest = 16
)

// DatabaseConfig holds the metadata-store MySQL settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Socket   string `yaml:"socket,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	PoolMax        int           `yaml:"pool_max"`
}

// CacheConfig holds the redis settings.
type CacheConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password,omitempty"`

	SearchTTL time.Duration `yaml:"search_ttl"`
}

// LLMConfig holds the AI enrichment adapter settings. An empty APIKey marks
// the adapter unavailable and every AI call short-circuits to its neutral
// default.
type LLMConfig struct {
	APIKey   string        `yaml:"api_key,omitempty"`
	Model    string        `yaml:"model"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RateLimitConfig holds the sliding-window limiter settings.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// Config is the root service configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	Port        int             `yaml:"port"`
	Database    DatabaseConfig  `yaml:"database"`
	Cache       CacheConfig     `yaml:"cache"`
	LLM         LLMConfig       `yaml:"llm"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`

	// JWTSecret signs management bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// EncryptionKey is the base64-encoded 32-byte key for tenant DB
	// password encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

// Load reads configuration from the environment. Composite URLs take
// precedence over component variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", EnvDevelopment),
		Port:        getEnvInt("PORT", DefaultPort),
		Database: DatabaseConfig{
			Host:           os.Getenv("DB_HOST"),
			Port:           getEnvInt("DB_PORT", DefaultDBPort),
			Username:       os.Getenv("DB_USERNAME"),
			Password:       os.Getenv("DB_PASSWORD"),
			Database:       os.Getenv("DB_DATABASE"),
			Socket:         os.Getenv("DB_SOCKET"),
			ConnectTimeout: getEnvMillis("DB_CONNECT_TIMEOUT_MS", DefaultConnectTimeout),
			AcquireTimeout: getEnvMillis("DB_ACQUIRE_TIMEOUT_MS", DefaultAcquireTimeout),
			PoolMax:        getEnvInt("DB_POOL_MAX", DefaultPoolMax),
		},
		Cache: CacheConfig{
			Host:      getEnv("CACHE_HOST", DefaultCacheHost),
			Port:      getEnvInt("CACHE_PORT", DefaultCachePort),
			Password:  os.Getenv("CACHE_PASSWORD"),
			SearchTTL: getEnvMillis("CACHE_TTL_SEARCH_MS", DefaultSearchCacheTTL),
		},
		LLM: LLMConfig{
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnv("LLM_MODEL", DefaultLLMModel),
			Endpoint: os.Getenv("LLM_ENDPOINT"),
			Timeout:  getEnvMillis("LLM_TIMEOUT_MS", DefaultLLMTimeout),
		},
		RateLimit: RateLimitConfig{
			Window: getEnvMillis("RATE_LIMIT_WINDOW_MS", DefaultRateLimitWindow),
			Max:    getEnvInt("RATE_LIMIT_MAX", DefaultRateLimitMax),
		},
		JWTSecret:     os.Getenv("JWT_SECRET"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
	}

	// Composite URLs win over component variables.
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		parsed, err := ParseDatabaseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		parsed.ConnectTimeout = cfg.Database.ConnectTimeout
		parsed.AcquireTimeout = cfg.Database.AcquireTimeout
		parsed.PoolMax = cfg.Database.PoolMax
		cfg.Database = *parsed
	}
	if raw := os.Getenv("CACHE_URL"); raw != "" {
		parsed, err := ParseCacheURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_URL: %w", err)
		}
		parsed.SearchTTL = cfg.Cache.SearchTTL
		cfg.Cache = *parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile overlays configuration from a YAML file onto cfg. Fields absent
// from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return c.Validate()
}

// Validate checks invariants on the loaded configuration.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("unknown ENV %q (expected development, production, or test)", c.Environment)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range [1, 65535]", c.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT %d out of range [1, 65535]", c.Database.Port)
	}
	if c.Cache.Port < 1 || c.Cache.Port > 65535 {
		return fmt.Errorf("CACHE_PORT %d out of range [1, 65535]", c.Cache.Port)
	}

	minLen := minJWTSecretLen
	if c.Environment == EnvTest {
		minLen = minJWTSecretLenTest
	}
	if len(c.JWTSecret) < minLen {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minLen)
	}

	return nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// CacheAddr returns the redis host:port address.
func (c *CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable parsed as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvMillis returns the environment variable parsed as a millisecond
// count or a default duration.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}
