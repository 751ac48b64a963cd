package config

import (
	"github.com/rs/zerolog"

	"github.com/s0up4200/btrpc/btrpc"
)

// Config represents the complete configuration structure
type Config struct {
	Clients map[string]ClientConfig `mapstructure:"clients"`
	Filters FilterConfig            `mapstructure:"filters"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// ClientConfig holds the connection details of one BitTorrent client. The
// key in Config.Clients names the client unless Client is set, which
// allows several profiles for the same kind of client.
type ClientConfig struct {
	Client   string `mapstructure:"client"`
	URL      string `mapstructure:"url"`
	ProxyURL string `mapstructure:"proxy_url"`
	Timeout  string `mapstructure:"timeout"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// FilterConfig maps names to filter expressions
type FilterConfig map[string]string

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// Options returns the btrpc options for cc. The timeout must already be
// validated.
func (cc ClientConfig) Options(logger zerolog.Logger) []btrpc.Option {
	opts := []btrpc.Option{btrpc.WithLogger(logger)}
	if cc.URL != "" {
		opts = append(opts, btrpc.WithURL(cc.URL))
	}
	if cc.Username != "" {
		opts = append(opts, btrpc.WithUsername(cc.Username))
	}
	if cc.Password != "" {
		opts = append(opts, btrpc.WithPassword(cc.Password))
	}
	if timeout, err := btrpc.ParseTimeout(cc.Timeout); err == nil && timeout > 0 {
		opts = append(opts, btrpc.WithTimeout(timeout))
	}
	if cc.ProxyURL != "" {
		opts = append(opts, btrpc.WithProxyURL(cc.ProxyURL))
	}
	return opts
}
