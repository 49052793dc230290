package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML and TOML files. Durations are written as
// Go duration strings ("90s", "2m"). Zero values leave the default in place.
type fileConfig struct {
	Port string `yaml:"port" toml:"port"`
	Env  string `yaml:"env" toml:"env"`

	ORS struct {
		APIKey  string `yaml:"api_key" toml:"api_key"`
		BaseURL string `yaml:"base_url" toml:"base_url"`
	} `yaml:"ors" toml:"ors"`

	Acquire struct {
		Provider            string  `yaml:"provider" toml:"provider"`
		MaxRoutesPerRequest int     `yaml:"max_routes_per_request" toml:"max_routes_per_request"`
		MaxRetries          int     `yaml:"max_retries" toml:"max_retries"`
		RateLimitBackoff    string  `yaml:"rate_limit_backoff" toml:"rate_limit_backoff"`
		TransientBackoff    string  `yaml:"transient_backoff" toml:"transient_backoff"`
		ErrorBackoff        string  `yaml:"error_backoff" toml:"error_backoff"`
		BatchCooldown       string  `yaml:"batch_cooldown" toml:"batch_cooldown"`
		HTTPTimeout         string  `yaml:"http_timeout" toml:"http_timeout"`
		AverageSpeedKmh     float64 `yaml:"average_speed_kmh" toml:"average_speed_kmh"`
	} `yaml:"acquire" toml:"acquire"`

	Paths struct {
		Registry  string `yaml:"registry" toml:"registry"`
		MatrixDir string `yaml:"matrix_dir" toml:"matrix_dir"`
		OutputDir string `yaml:"output_dir" toml:"output_dir"`
	} `yaml:"paths" toml:"paths"`

	Optimizer struct {
		Path    string `yaml:"path" toml:"path"`
		Timeout string `yaml:"timeout" toml:"timeout"`
	} `yaml:"optimizer" toml:"optimizer"`

	CacheTTL string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// LoadFile reads a config file on top of the defaults, without consulting
// the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("config load failed (%s): unsupported extension %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	return c.merge(fc)
}

func (c *Config) merge(fc fileConfig) error {
	setString(&c.Port, fc.Port)
	setString(&c.Env, fc.Env)
	setString(&c.ORSAPIKey, fc.ORS.APIKey)
	setString(&c.ORSBaseURL, fc.ORS.BaseURL)
	setString(&c.Provider, strings.ToLower(fc.Acquire.Provider))
	setString(&c.RegistryPath, fc.Paths.Registry)
	setString(&c.MatrixDir, fc.Paths.MatrixDir)
	setString(&c.OutputDir, fc.Paths.OutputDir)
	setString(&c.OptimizerPath, fc.Optimizer.Path)

	if fc.Acquire.MaxRoutesPerRequest != 0 {
		c.MaxRoutesPerRequest = fc.Acquire.MaxRoutesPerRequest
	}
	if fc.Acquire.MaxRetries != 0 {
		c.MaxRetries = fc.Acquire.MaxRetries
	}
	if fc.Acquire.AverageSpeedKmh != 0 {
		c.AverageSpeedKmh = fc.Acquire.AverageSpeedKmh
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"acquire.rate_limit_backoff", fc.Acquire.RateLimitBackoff, &c.RateLimitBackoff},
		{"acquire.transient_backoff", fc.Acquire.TransientBackoff, &c.TransientBackoff},
		{"acquire.error_backoff", fc.Acquire.ErrorBackoff, &c.ErrorBackoff},
		{"acquire.batch_cooldown", fc.Acquire.BatchCooldown, &c.BatchCooldown},
		{"acquire.http_timeout", fc.Acquire.HTTPTimeout, &c.HTTPTimeout},
		{"optimizer.timeout", fc.Optimizer.Timeout, &c.OptimizerTimeout},
		{"cache_ttl", fc.CacheTTL, &c.CacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config field %s: %w", d.name, err)
		}
		*d.field = parsed
	}
	return nil
}

func setString(field *string, value string) {
	if value != "" {
		*field = value
	}
}
