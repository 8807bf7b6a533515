// Package config loads the warden configuration file and environment
// overrides. Configuration covers the provider endpoint, the state store
// location, catalog paths, and telemetry; entity definitions themselves
// live in the catalog, not here.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// ProviderConfig describes the cloud provider API endpoint.
type ProviderConfig struct {
	// BaseURL is the provider API root, e.g. https://api.example.com.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// Timeout bounds each provider call.
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`

	// Headers are sent with every request. Authorization typically goes
	// here via the WARDEN_PROVIDER_TOKEN environment override.
	Headers map[string]string `mapstructure:"headers"`

	// RetryInterval and RetryMaxAttempts bound the conflict retry loop.
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
}

// StoreConfig describes the state database.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path" validate:"required"`
}

// CatalogConfig describes where entity definitions are loaded from.
type CatalogConfig struct {
	// Paths are files or directories scanned for catalog YAML.
	Paths []string `mapstructure:"paths" validate:"required,min=1"`
}

// Config is the top-level warden configuration.
type Config struct {
	Provider  ProviderConfig   `mapstructure:"provider"`
	Store     StoreConfig      `mapstructure:"store"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// DefaultConfig returns the configuration defaults applied before file and
// environment values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Timeout:          30 * time.Second,
			RetryInterval:    transport.DefaultRetryInterval,
			RetryMaxAttempts: transport.DefaultRetryMaxAttempts,
		},
		Store: StoreConfig{
			Path: "warden.db",
		},
		Catalog: CatalogConfig{
			Paths: []string{"catalog"},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads configuration from the given file (or the default search
// locations when empty), applies environment overrides, and validates the
// result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("warden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/warden")
	}

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; defaults and environment apply.
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if token := v.GetString("provider_token"); token != "" {
		if cfg.Provider.Headers == nil {
			cfg.Provider.Headers = make(map[string]string)
		}
		cfg.Provider.Headers["Authorization"] = "Bearer " + token
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks a configuration for structural problems.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var details strings.Builder
		details.WriteString("configuration validation failed:")
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details.WriteString(fmt.Sprintf("\n - field %q failed %q validation", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", details.String())
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg.Telemetry.Validate()
}
