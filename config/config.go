// Package config holds fetcher configuration and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Bounds filters implausible room dimensions out of OCR noise. The defaults
// suit residential floorplans; they are settings, not invariants.
type Bounds struct {
	MinSideFt float64 `yaml:"min_side_ft"`
	MaxSideFt float64 `yaml:"max_side_ft"`
	MinSideM  float64 `yaml:"min_side_m"`
	MaxSideM  float64 `yaml:"max_side_m"`
}

// Config holds crawl, extraction, and output configuration.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	UserAgent   string        `yaml:"user_agent"`
	Parallelism int           `yaml:"parallelism"`
	Delay       time.Duration `yaml:"delay"`
	RandomDelay time.Duration `yaml:"random_delay"`
	Timeout     time.Duration `yaml:"timeout"`

	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`

	MaxPages int `yaml:"max_pages"`
	PageSize int `yaml:"page_size"`

	OutputFile   string `yaml:"output_file"`
	OutputFormat string `yaml:"output_format"` // csv, json, dual, or postgres
	PostgresDSN  string `yaml:"postgres_dsn"`

	MetricsAddr string `yaml:"metrics_addr"`

	TesseractBin string `yaml:"tesseract_bin"`
	OCRCacheSize int    `yaml:"ocr_cache_size"`

	DimensionBounds Bounds `yaml:"dimension_bounds"`

	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults for the listings source.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.zoopla.co.uk",
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Parallelism:     10,
		Delay:           200 * time.Millisecond,
		RandomDelay:     100 * time.Millisecond,
		Timeout:         15 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 8 * time.Second,
		MaxPages:        100,
		PageSize:        100,
		OutputFile:      "output/listings.csv",
		OutputFormat:    "csv",
		TesseractBin:    "tesseract",
		OCRCacheSize:    512,
		DimensionBounds: Bounds{
			MinSideFt: 1,
			MaxSideFt: 100,
			MinSideM:  1,
			MaxSideM:  30,
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.OutputFile == "" && c.OutputFormat != "postgres" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres output requires a DSN")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, or postgres")
	}
	if c.OCRCacheSize <= 0 {
		return fmt.Errorf("ocr cache size must be positive")
	}
	if err := c.DimensionBounds.validate(); err != nil {
		return err
	}
	return nil
}

func (b Bounds) validate() error {
	if b.MinSideFt <= 0 || b.MinSideM <= 0 {
		return fmt.Errorf("dimension lower bounds must be positive")
	}
	if b.MaxSideFt <= b.MinSideFt {
		return fmt.Errorf("dimension max side (ft) must exceed min side")
	}
	if b.MaxSideM <= b.MinSideM {
		return fmt.Errorf("dimension max side (m) must exceed min side")
	}
	return nil
}

// LoadFile overlays settings from a YAML preset file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// LoadEnv reads a .env file if present; system env vars win either way.
func LoadEnv() {
	_ = godotenv.Load()
}

// EnvString fetches a string environment override.
func EnvString(key string) (string, bool) {
	value := os.Getenv(key)
	return value, value != ""
}

// EnvInt fetches an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
