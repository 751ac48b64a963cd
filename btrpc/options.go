package btrpc

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client.
type Option func(*clientOptions)

// clientOptions holds configuration options for the Client.
type clientOptions struct {
	url       string
	overrides []func(*URL) error
	timeout   time.Duration
	proxyURL  string
	logger    *zerolog.Logger
}

// WithURL sets the URL of the RPC interface. The protocol's default URL is
// used if url is empty.
func WithURL(url string) Option {
	return func(o *clientOptions) {
		o.url = url
	}
}

// WithScheme overrides the scheme of the URL.
func WithScheme(scheme string) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			u.SetScheme(scheme)
			return nil
		})
	}
}

// WithHost overrides the host of the URL.
func WithHost(host string) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			u.SetHost(host)
			return nil
		})
	}
}

// WithPort overrides the port of the URL.
func WithPort(port any) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			return u.SetPort(port)
		})
	}
}

// WithPath overrides the path of the URL.
func WithPath(path string) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			u.SetPath(path)
			return nil
		})
	}
}

// WithUsername overrides the user name of the URL.
func WithUsername(username string) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			u.SetUsername(username)
			return nil
		})
	}
}

// WithPassword overrides the password of the URL.
func WithPassword(password string) Option {
	return func(o *clientOptions) {
		o.overrides = append(o.overrides, func(u *URL) error {
			u.SetPassword(password)
			return nil
		})
	}
}

// WithTimeout sets the deadline for connecting, disconnecting and each call.
// Zero or negative values select the protocol's default.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithProxyURL tunnels the connection through a SOCKS5 or HTTP proxy.
func WithProxyURL(proxyURL string) Option {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
	}
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = &logger
	}
}
