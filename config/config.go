package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/clients"
)

// EnvPrefix is the prefix of environment variables overriding the config,
// e.g. BTRPC_LOGGING_LEVEL.
const EnvPrefix = "BTRPC"

// Load loads the configuration from configPath, or from config.yaml in the
// standard locations if configPath is empty. A missing config file in the
// standard locations is not an error.
func Load(configPath string) (*Config, error) {
	// Variables from .env in the working directory, if any
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".btrpc"))
		}
		v.AddConfigPath("/etc/btrpc/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	validClients := map[string]bool{}
	for _, name := range clients.Names() {
		validClients[name] = true
	}
	for profile, cc := range cfg.Clients {
		if !validClients[cfg.ClientName(profile)] {
			return fmt.Errorf("clients.%s: unknown client: %s", profile, cfg.ClientName(profile))
		}
		if _, err := btrpc.ParseTimeout(cc.Timeout); err != nil {
			return fmt.Errorf("clients.%s.timeout: invalid timeout: %s", profile, cc.Timeout)
		}
		if cc.URL != "" {
			if _, err := btrpc.ParseURL(cc.URL); err != nil {
				return fmt.Errorf("clients.%s.url: %w", profile, err)
			}
		}
		if cc.ProxyURL != "" {
			if _, err := btrpc.ParseURL(cc.ProxyURL); err != nil {
				return fmt.Errorf("clients.%s.proxy_url: %w", profile, err)
			}
		}
	}

	for name, expression := range cfg.Filters {
		if strings.TrimSpace(expression) == "" {
			return fmt.Errorf("filters.%s: empty expression", name)
		}
	}

	return nil
}

// ClientName returns the client name of profile, which is the profile
// itself unless its config names a client.
func (c *Config) ClientName(profile string) string {
	if cc, ok := c.Clients[profile]; ok && cc.Client != "" {
		return strings.ToLower(cc.Client)
	}
	return strings.ToLower(profile)
}

// Client returns the config of profile. Unconfigured client names yield an
// empty config so every client can be used with its defaults.
func (c *Config) Client(profile string) (ClientConfig, error) {
	if cc, ok := c.Clients[profile]; ok {
		return cc, nil
	}
	for _, name := range clients.Names() {
		if name == strings.ToLower(profile) {
			return ClientConfig{}, nil
		}
	}
	return ClientConfig{}, fmt.Errorf("no such client or profile: %s", profile)
}

// Filter returns the expression saved as name, or name itself if there is
// no such filter.
func (c *Config) Filter(name string) string {
	if expression, ok := c.Filters[name]; ok {
		return expression
	}
	return name
}
