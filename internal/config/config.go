// Package config loads the exporter configuration from the environment and
// an optional .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variables.
const (
	EnvAccessToken         = "HUBSPOT_ACCESS_TOKEN"
	EnvBaseURL             = "HUBSPOT_BASE_URL"
	EnvOutputDir           = "OUTPUT_DIR"
	EnvObjectsFile         = "OBJECTS_FILE"
	EnvObjects             = "EXPORT_OBJECTS"
	EnvPageSize            = "PAGE_SIZE"
	EnvMaxPages            = "MAX_PAGES"
	EnvRequestTimeout      = "REQUEST_TIMEOUT"
	EnvMaxRetries          = "MAX_RETRIES"
	EnvMinInterval         = "MIN_REQUEST_INTERVAL"
	EnvAllProperties       = "ALL_PROPERTIES"
	EnvPropertiesChunkSize = "PROPERTIES_CHUNK_SIZE"
	EnvRedisURL            = "REDIS_URL"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogPretty           = "LOG_PRETTY"
	EnvReportFile          = "REPORT_FILE"
	EnvMetricsFile         = "METRICS_FILE"

	// EnvDisableDotenv skips loading .env (tests).
	EnvDisableDotenv = "GODOTENV_DISABLE"
)

// MaxPageSize is the largest page the list endpoints accept.
const MaxPageSize = 100

// Config is the exporter configuration.
type Config struct {
	AccessToken string
	BaseURL     string

	OutputDir   string
	ObjectsFile string
	Objects     []string

	PageSize       int
	MaxPages       int
	RequestTimeout time.Duration
	MaxRetries     int
	MinInterval    time.Duration

	AllProperties       bool
	PropertiesChunkSize int

	// RedisURL enables shared rate limit state and the property cache.
	RedisURL string

	LogLevel  string
	LogPretty bool

	ReportFile  string
	MetricsFile string
}

// ConfigError reports an invalid or missing setting.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfig loads .env (when present) and reads the environment.
// Malformed numbers and durations are reported as *ConfigError.
func NewConfig() (*Config, error) {
	if os.Getenv(EnvDisableDotenv) == "" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to load .env")
		}
	}

	p := &parser{}
	cfg := &Config{
		AccessToken:         strings.TrimSpace(getEnv(EnvAccessToken, "")),
		BaseURL:             getEnv(EnvBaseURL, "https://api.hubapi.com"),
		OutputDir:           getEnv(EnvOutputDir, "hubspot_data"),
		ObjectsFile:         getEnv(EnvObjectsFile, ""),
		Objects:             splitList(getEnv(EnvObjects, "")),
		PageSize:            p.intVar(EnvPageSize, MaxPageSize),
		MaxPages:            p.intVar(EnvMaxPages, 10000),
		RequestTimeout:      p.durationVar(EnvRequestTimeout, 60*time.Second),
		MaxRetries:          p.intVar(EnvMaxRetries, 3),
		MinInterval:         p.durationVar(EnvMinInterval, 50*time.Millisecond),
		AllProperties:       p.boolVar(EnvAllProperties, false),
		PropertiesChunkSize: p.intVar(EnvPropertiesChunkSize, 50),
		RedisURL:            getEnv(EnvRedisURL, ""),
		LogLevel:            getEnv(EnvLogLevel, "info"),
		LogPretty:           p.boolVar(EnvLogPretty, false),
		ReportFile:          getEnv(EnvReportFile, ""),
		MetricsFile:         getEnv(EnvMetricsFile, ""),
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate checks the settings needed before any request is sent.
func (c *Config) Validate() error {
	if c.AccessToken == "" {
		return &ConfigError{Field: EnvAccessToken, Reason: "access token is required"}
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: EnvBaseURL, Reason: fmt.Sprintf("invalid url %q", c.BaseURL)}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return &ConfigError{Field: EnvOutputDir, Reason: "output directory is required"}
	}
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return &ConfigError{Field: EnvPageSize, Reason: fmt.Sprintf("must be between 1 and %d (got %d)", MaxPageSize, c.PageSize)}
	}
	if c.MaxPages < 0 {
		return &ConfigError{Field: EnvMaxPages, Reason: fmt.Sprintf("must be >= 0 (got %d)", c.MaxPages)}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: EnvRequestTimeout, Reason: fmt.Sprintf("must be > 0 (got %s)", c.RequestTimeout)}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: EnvMaxRetries, Reason: fmt.Sprintf("must be >= 0 (got %d)", c.MaxRetries)}
	}
	if c.MinInterval < 0 {
		return &ConfigError{Field: EnvMinInterval, Reason: fmt.Sprintf("must be >= 0 (got %s)", c.MinInterval)}
	}
	if c.PropertiesChunkSize < 1 {
		return &ConfigError{Field: EnvPropertiesChunkSize, Reason: fmt.Sprintf("must be >= 1 (got %d)", c.PropertiesChunkSize)}
	}
	return nil
}

// GetBaseURL returns the API host without trailing slash.
func (c *Config) GetBaseURL() string {
	return strings.TrimSuffix(c.BaseURL, "/")
}

// parser reads typed variables, keeping the first error.
type parser struct {
	err error
}

func (p *parser) fail(key, reason string) {
	if p.err == nil {
		p.err = &ConfigError{Field: key, Reason: reason}
	}
}

func (p *parser) intVar(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, fmt.Sprintf("not an integer: %q", value))
		return defaultValue
	}
	return n
}

// durationVar accepts Go durations ("90s", "2m") or plain seconds ("120").
func (p *parser) durationVar(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, fmt.Sprintf("not a duration: %q", value))
		return defaultValue
	}
	return d
}

func (p *parser) boolVar(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, fmt.Sprintf("not a boolean: %q", value))
		return defaultValue
	}
	return b
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
