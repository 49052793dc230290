// Package config handles application configuration from environment variables,
// an optional .env file and an optional YAML or TOML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Matrix providers
const (
	ProviderORS       = "ors"
	ProviderHaversine = "haversine"
)

// EnvConfigPath names the config file when no --config flag is given
const EnvConfigPath = "TOURNEE_CONFIG"

// Config holds all application configuration.
type Config struct {
	Port string
	Env  string

	ORSAPIKey  string
	ORSBaseURL string
	Provider   string

	MaxRoutesPerRequest int
	MaxRetries          int
	RateLimitBackoff    time.Duration
	TransientBackoff    time.Duration
	ErrorBackoff        time.Duration
	BatchCooldown       time.Duration
	HTTPTimeout         time.Duration

	RegistryPath string
	MatrixDir    string
	OutputDir    string

	OptimizerPath    string
	OptimizerTimeout time.Duration

	CacheTTL        time.Duration
	AverageSpeedKmh float64
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                "3000",
		Env:                 "development",
		ORSBaseURL:          "https://api.openrouteservice.org/v2/matrix/driving-car",
		Provider:            ProviderORS,
		MaxRoutesPerRequest: 3500,
		MaxRetries:          3,
		RateLimitBackoff:    60 * time.Second,
		TransientBackoff:    30 * time.Second,
		ErrorBackoff:        10 * time.Second,
		BatchCooldown:       2 * time.Second,
		HTTPTimeout:         120 * time.Second,
		RegistryPath:        "sources/pharmacies_coordonnees.csv",
		MatrixDir:           "sources",
		OutputDir:           "output",
		OptimizerPath:       "./Prototype/recuit",
		OptimizerTimeout:    300 * time.Second,
		CacheTTL:            120 * time.Second,
		AverageSpeedKmh:     40,
	}
}

// Load reads configuration with sensible defaults. A .env file in the working
// directory is applied first, then the config file at path (if any), then the
// process environment. An empty path falls back to TOURNEE_CONFIG.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable for extraction runs.
func (c *Config) Validate() error {
	var err error
	if strings.TrimSpace(c.RegistryPath) == "" {
		err = multierr.Append(err, errors.New("registry path is required"))
	}
	if strings.TrimSpace(c.MatrixDir) == "" {
		err = multierr.Append(err, errors.New("matrix dir is required"))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		err = multierr.Append(err, errors.New("output dir is required"))
	}
	if c.CacheTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("cache ttl must be positive, got %s", c.CacheTTL))
	}
	switch c.Provider {
	case ProviderORS, ProviderHaversine:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown matrix provider %q", c.Provider))
	}
	return err
}

// ValidateAcquire checks the settings the acquirer needs on top of Validate.
func (c *Config) ValidateAcquire() error {
	err := c.Validate()
	if c.Provider == ProviderORS && strings.TrimSpace(c.ORSAPIKey) == "" {
		err = multierr.Append(err, errors.New("ORS_API_KEY is required for the ors provider"))
	}
	if c.MaxRoutesPerRequest <= 0 {
		err = multierr.Append(err, fmt.Errorf("max routes per request must be positive, got %d", c.MaxRoutesPerRequest))
	}
	if c.MaxRetries < 1 {
		err = multierr.Append(err, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.HTTPTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.Provider == ProviderHaversine && c.AverageSpeedKmh <= 0 {
		err = multierr.Append(err, fmt.Errorf("average speed must be positive, got %g", c.AverageSpeedKmh))
	}
	return err
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.ORSAPIKey = getEnv("ORS_API_KEY", c.ORSAPIKey)
	c.ORSBaseURL = getEnv("ORS_BASE_URL", c.ORSBaseURL)
	c.Provider = strings.ToLower(getEnv("MATRIX_PROVIDER", c.Provider))
	c.MaxRoutesPerRequest = getIntEnv("MAX_ROUTES_PER_REQUEST", c.MaxRoutesPerRequest)
	c.MaxRetries = getIntEnv("MAX_RETRIES", c.MaxRetries)
	c.RateLimitBackoff = getDurationEnv("RATE_LIMIT_BACKOFF_SECONDS", c.RateLimitBackoff)
	c.TransientBackoff = getDurationEnv("TRANSIENT_BACKOFF_SECONDS", c.TransientBackoff)
	c.ErrorBackoff = getDurationEnv("ERROR_BACKOFF_SECONDS", c.ErrorBackoff)
	c.BatchCooldown = getDurationEnv("BATCH_COOLDOWN_SECONDS", c.BatchCooldown)
	c.HTTPTimeout = getDurationEnv("HTTP_TIMEOUT_SECONDS", c.HTTPTimeout)
	c.RegistryPath = getEnv("REGISTRY_PATH", c.RegistryPath)
	c.MatrixDir = getEnv("MATRIX_DIR", c.MatrixDir)
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
	c.OptimizerPath = getEnv("OPTIMIZER_PATH", c.OptimizerPath)
	c.OptimizerTimeout = getDurationEnv("OPTIMIZER_TIMEOUT_SECONDS", c.OptimizerTimeout)
	c.CacheTTL = getDurationEnv("CACHE_TTL_SECONDS", c.CacheTTL)
	c.AverageSpeedKmh = getFloatEnv("AVERAGE_SPEED_KMH", c.AverageSpeedKmh)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv reads a whole number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
