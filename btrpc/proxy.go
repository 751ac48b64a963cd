package btrpc

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"

	"github.com/magisterquis/connectproxy"
	"golang.org/x/net/proxy"
	"h12.io/socks"
)

func init() {
	proxy.RegisterDialerType("http", newConnectDialer)
	proxy.RegisterDialerType("https", newConnectDialer)
	proxy.RegisterDialerType("socks4", newSOCKS4Dialer)
	proxy.RegisterDialerType("socks4a", newSOCKS4Dialer)
}

// newConnectDialer tunnels through an HTTP proxy with CONNECT. Credentials
// in u are sent as Proxy-Authorization.
func newConnectDialer(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	proxyURL := *u
	if proxyURL.Port() == "" {
		port := "80"
		if proxyURL.Scheme == "https" {
			port = "443"
		}
		proxyURL.Host = net.JoinHostPort(proxyURL.Hostname(), port)
	}

	config := &connectproxy.Config{Header: make(http.Header)}
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		creds := proxyURL.User.Username() + ":" + password
		config.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		proxyURL.User = nil
	}
	return connectproxy.NewWithConfig(&proxyURL, forward, config)
}

// newSOCKS4Dialer dials through a SOCKS4 or SOCKS4A proxy. SOCKS4 resolves
// the target host locally.
func newSOCKS4Dialer(u *url.URL, _ proxy.Dialer) (proxy.Dialer, error) {
	return dialFunc(socks.Dial(u.String())), nil
}

type dialFunc func(network, addr string) (net.Conn, error)

func (f dialFunc) Dial(network, addr string) (net.Conn, error) {
	return f(network, addr)
}

// contextDialer cancels Dial calls of dialers without context support.
type contextDialer struct {
	proxy.Dialer
}

func (d contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// proxyDialer returns a dialer that tunnels through proxyURL.
func proxyDialer(proxyURL *URL) (proxy.ContextDialer, error) {
	switch proxyURL.Scheme() {
	case "socks4", "socks4a", "socks5", "socks5h", "http", "https":
	case "":
		return nil, NewValueError("Missing proxy protocol: %s", proxyURL)
	default:
		return nil, NewValueError("Unsupported proxy protocol: %s", proxyURL.Scheme())
	}
	if proxyURL.Host() == "" {
		return nil, NewValueError("Missing proxy host: %s", proxyURL)
	}

	u, err := url.Parse(proxyURL.WithAuth())
	if err != nil {
		return nil, NewValueError("Invalid proxy URL: %s", proxyURL)
	}
	d, err := proxy.FromURL(u, &net.Dialer{})
	if err != nil {
		return nil, NewValueError("%s", err.Error())
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialer{d}, nil
}

// configureProxy routes transport through proxyURL.
func configureProxy(transport *http.Transport, proxyURL *URL) error {
	switch proxyURL.Scheme() {
	case "http", "https":
		u, err := url.Parse(proxyURL.WithAuth())
		if err != nil {
			return NewValueError("Invalid proxy URL: %s", proxyURL)
		}
		transport.Proxy = http.ProxyURL(u)
		return nil
	}

	d, err := proxyDialer(proxyURL)
	if err != nil {
		return err
	}
	transport.Proxy = nil
	transport.DialContext = d.DialContext
	return nil
}

// DialContext connects to addr, through proxyURL if it is not nil. Failures
// are returned as ConnectionError.
func DialContext(ctx context.Context, proxyURL *URL, network, addr string) (net.Conn, error) {
	if proxyURL == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, ConnectionErrorFrom(err)
		}
		return conn, nil
	}

	d, err := proxyDialer(proxyURL)
	if err != nil {
		return nil, err
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, ConnectionErrorFrom(err)
	}
	return conn, nil
}
