package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var allKeys = []string{
	EnvAccessToken, EnvBaseURL, EnvOutputDir, EnvObjectsFile, EnvObjects,
	EnvPageSize, EnvMaxPages, EnvRequestTimeout, EnvMaxRetries, EnvMinInterval,
	EnvAllProperties, EnvPropertiesChunkSize, EnvRedisURL, EnvLogLevel,
	EnvLogPretty, EnvReportFile, EnvMetricsFile,
}

// setEnv gives the test a clean environment with the given overrides.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()

	// Ensure a developer's local .env is not loaded
	t.Setenv(EnvDisableDotenv, "1")

	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func newConfigWithEnv(t *testing.T, env map[string]string) *Config {
	t.Helper()
	setEnv(t, env)

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	return cfg
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := newConfigWithEnv(t, map[string]string{})

	if cfg.AccessToken != "" {
		t.Errorf("expected empty AccessToken, got %q", cfg.AccessToken)
	}
	if cfg.BaseURL != "https://api.hubapi.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.OutputDir != "hubspot_data" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.PageSize != 100 || cfg.MaxPages != 10000 {
		t.Errorf("PageSize/MaxPages = %d/%d", cfg.PageSize, cfg.MaxPages)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.MinInterval != 50*time.Millisecond {
		t.Errorf("MinInterval = %v", cfg.MinInterval)
	}
	if cfg.AllProperties {
		t.Error("AllProperties should default to false")
	}
	if cfg.PropertiesChunkSize != 50 {
		t.Errorf("PropertiesChunkSize = %d", cfg.PropertiesChunkSize)
	}
	if cfg.Objects != nil {
		t.Errorf("Objects = %v, want nil", cfg.Objects)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestNewConfig_Overrides(t *testing.T) {
	cfg := newConfigWithEnv(t, map[string]string{
		EnvAccessToken:    "  pat-na1-123  ",
		EnvBaseURL:        "http://localhost:8080/",
		EnvObjects:        "contacts, deals,,",
		EnvPageSize:       "50",
		EnvRequestTimeout: "120",
		EnvMinInterval:    "250ms",
		EnvAllProperties:  "true",
		EnvRedisURL:       "redis://localhost:6379/0",
		EnvLogPretty:      "1",
	})

	if cfg.AccessToken != "pat-na1-123" {
		t.Errorf("AccessToken = %q, want trimmed", cfg.AccessToken)
	}
	if cfg.GetBaseURL() != "http://localhost:8080" {
		t.Errorf("GetBaseURL() = %q", cfg.GetBaseURL())
	}
	if !reflect.DeepEqual(cfg.Objects, []string{"contacts", "deals"}) {
		t.Errorf("Objects = %v", cfg.Objects)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize = %d", cfg.PageSize)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want plain seconds accepted", cfg.RequestTimeout)
	}
	if cfg.MinInterval != 250*time.Millisecond {
		t.Errorf("MinInterval = %v", cfg.MinInterval)
	}
	if !cfg.AllProperties || !cfg.LogPretty {
		t.Error("boolean overrides not applied")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestNewConfig_MalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvPageSize, "lots"},
		{EnvRequestTimeout, "soon"},
		{EnvAllProperties, "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setEnv(t, map[string]string{tt.key: tt.value})

			_, err := NewConfig()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("NewConfig() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.key {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AccessToken:         "pat",
			BaseURL:             "https://api.hubapi.com",
			OutputDir:           "out",
			PageSize:            100,
			MaxPages:            10000,
			RequestTimeout:      time.Minute,
			MaxRetries:          3,
			MinInterval:         50 * time.Millisecond,
			PropertiesChunkSize: 50,
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.AccessToken = "" }, EnvAccessToken},
		{"bad base url", func(c *Config) { c.BaseURL = "api.hubapi.com" }, EnvBaseURL},
		{"empty output dir", func(c *Config) { c.OutputDir = " " }, EnvOutputDir},
		{"page size zero", func(c *Config) { c.PageSize = 0 }, EnvPageSize},
		{"page size too large", func(c *Config) { c.PageSize = 101 }, EnvPageSize},
		{"negative max pages", func(c *Config) { c.MaxPages = -1 }, EnvMaxPages},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, EnvRequestTimeout},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, EnvMaxRetries},
		{"negative interval", func(c *Config) { c.MinInterval = -time.Second }, EnvMinInterval},
		{"zero chunk size", func(c *Config) { c.PropertiesChunkSize = 0 }, EnvPropertiesChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestMissingTokenMessage(t *testing.T) {
	cfg := newConfigWithEnv(t, map[string]string{})
	err := cfg.Validate()
	if err == nil || err.Error() != "invalid configuration: HUBSPOT_ACCESS_TOKEN: access token is required" {
		t.Errorf("Validate() error = %v", err)
	}
}
