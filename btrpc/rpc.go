package btrpc

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is used for protocols that don't implement TimeoutDefaulter.
const DefaultTimeout = 5 * time.Second

// Protocol is implemented by each BitTorrent client adapter. The Client calls
// these methods at the right time and enforces timeouts and locking.
type Protocol interface {
	// Name is the lowercase name of the BitTorrent client.
	Name() string
	// Label is the properly capitalized Name.
	Label() string
	// DefaultURL is used when no URL is configured.
	DefaultURL() string

	// Connect performs the handshake with the RPC interface.
	Connect(ctx context.Context, c *Client) error
	// Disconnect releases protocol state. Failing to log out of a daemon
	// that is down is not an error.
	Disconnect(ctx context.Context, c *Client) error
	// Call performs one RPC call and returns the fully decoded reply.
	Call(ctx context.Context, c *Client, method string, args ...any) (any, error)
}

// TimeoutDefaulter is implemented by protocols with their own default timeout.
type TimeoutDefaulter interface {
	DefaultTimeout() time.Duration
}

// ProxyValidator is implemented by protocols that can't use a proxy with
// every URL.
type ProxyValidator interface {
	ValidateProxy(url, proxyURL *URL) error
}

// Client manages the connection to one BitTorrent client.
//
// Connect and Disconnect are serialized per Client. Call connects first if
// necessary. Changing the URL, the proxy URL or the timeout invalidates the
// HTTP client and the connection, which is transparently re-established on
// the next Call.
type Client struct {
	proto    Protocol
	logger   zerolog.Logger
	connLock *semaphore.Weighted
	events   *eventRegistry

	mu             sync.Mutex
	status         Status
	url            *URL
	proxyURL       *URL
	timeout        time.Duration
	httpClient     *http.Client
	httpDirty      bool
	headers        http.Header
	onConnecting   func()
	onConnected    func()
	onDisconnected func()
}

// New creates a Client for proto.
func New(proto Protocol, opts ...Option) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}

	c := &Client{
		proto:    proto,
		logger:   logger.With().Str("client", proto.Label()).Logger(),
		connLock: semaphore.NewWeighted(1),
		events:   newEventRegistry(),
		status:   StatusDisconnected,
		headers:  make(http.Header),
	}

	if err := c.SetURL(o.url); err != nil {
		return nil, err
	}
	for _, override := range o.overrides {
		if err := override(c.URL()); err != nil {
			return nil, err
		}
	}
	c.SetTimeout(o.timeout)
	if err := c.SetProxyURL(o.proxyURL); err != nil {
		return nil, err
	}

	return c, nil
}

// Protocol returns the adapter this client was created for.
func (c *Client) Protocol() Protocol {
	return c.proto
}

// Name returns the lowercase name of the BitTorrent client.
func (c *Client) Name() string {
	return c.proto.Name()
}

// Label returns the properly capitalized name of the BitTorrent client.
func (c *Client) Label() string {
	return c.proto.Label()
}

// Logger returns the client's logger.
func (c *Client) Logger() *zerolog.Logger {
	return &c.logger
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// URL returns the URL of the RPC interface. Changing any of its properties
// reconnects on the next Call.
func (c *Client) URL() *URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetURL replaces the URL. An empty raw selects the protocol's default URL.
func (c *Client) SetURL(raw string) error {
	if raw == "" {
		raw = c.proto.DefaultURL()
	}
	var opts []URLOption
	if def, err := ParseURL(c.proto.DefaultURL()); err == nil && def.Scheme() != "" && def.Scheme() != "file" {
		opts = append(opts, WithDefaultScheme(def.Scheme()))
	}
	u, err := ParseURL(raw, append(opts, WithOnChange(c.invalidate))...)
	if err != nil {
		return err
	}
	if err := c.validateProxy(u, c.ProxyURL()); err != nil {
		return err
	}

	c.mu.Lock()
	c.url = u
	c.mu.Unlock()
	c.invalidate()
	return nil
}

// ProxyURL returns the SOCKS5 or HTTP proxy URL or nil.
func (c *Client) ProxyURL() *URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxyURL
}

// SetProxyURL sets the proxy URL. An empty raw disables the proxy.
func (c *Client) SetProxyURL(raw string) error {
	var u *URL
	if raw != "" {
		var err error
		if u, err = ParseURL(raw, WithOnChange(c.invalidate)); err != nil {
			return err
		}
		if err := c.validateProxy(c.URL(), u); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.proxyURL = u
	c.mu.Unlock()
	c.invalidate()
	return nil
}

func (c *Client) validateProxy(url, proxyURL *URL) error {
	if url == nil || proxyURL == nil {
		return nil
	}
	if v, ok := c.proto.(ProxyValidator); ok {
		return v.ValidateProxy(url, proxyURL)
	}
	return nil
}

// DefaultTimeout returns the protocol's default timeout.
func (c *Client) DefaultTimeout() time.Duration {
	if d, ok := c.proto.(TimeoutDefaulter); ok && d.DefaultTimeout() > 0 {
		return d.DefaultTimeout()
	}
	return DefaultTimeout
}

// Timeout returns the deadline for connecting, disconnecting and each call.
func (c *Client) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetTimeout sets the timeout. Zero or negative values select DefaultTimeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = c.DefaultTimeout()
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
	c.invalidate()
}

// ParseTimeout parses seconds ("2.5") or a Go duration ("1m30s"). An empty
// string returns 0, which selects the default timeout.
func ParseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	return 0, NewValueError("Not a number")
}

// OnConnecting sets the callback that is called when an attempt to connect
// is made.
func (c *Client) OnConnecting(fn func()) {
	c.mu.Lock()
	c.onConnecting = fn
	c.mu.Unlock()
}

// OnConnected sets the callback that is called when connecting succeeded.
func (c *Client) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

// OnDisconnected sets the callback that is called when the connection is
// lost or terminated.
func (c *Client) OnDisconnected(fn func()) {
	c.mu.Lock()
	c.onDisconnected = fn
	c.mu.Unlock()
}

func (c *Client) transition(status Status) {
	c.mu.Lock()
	c.status = status
	var fn func()
	switch status {
	case StatusConnecting:
		fn = c.onConnecting
	case StatusConnected:
		fn = c.onConnected
	case StatusDisconnected:
		fn = c.onDisconnected
	}
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// withDeadline runs fn with the client's timeout. An expired timeout is
// reported as a TimeoutError.
func (c *Client) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	timeout := c.Timeout()
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(dctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	// Socket deadlines may fire before the context notices
	deadline, _ := dctx.Deadline()
	if errors.Is(dctx.Err(), context.DeadlineExceeded) || !time.Now().Before(deadline) {
		return NewTimeoutError(timeout)
	}
	return err
}

// Connect connects to the RPC interface. Concurrent calls are serialized; if
// the client is connected once the lock is acquired, Connect does nothing.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Debug().Stringer("status", c.Status()).Msg("connect(): Waiting for connection lock")
	if err := c.connLock.Acquire(ctx, 1); err != nil {
		return err
	}
	reconnected := false
	defer func() {
		c.connLock.Release(1)
		c.logger.Debug().Stringer("status", c.Status()).Msg("connect(): Freed connection lock")
		if reconnected {
			c.resubscribe(ctx)
		}
	}()
	c.logger.Debug().Stringer("status", c.Status()).Msg("connect(): Acquired connection lock")

	if c.Status() == StatusConnected {
		return nil
	}

	c.transition(StatusConnecting)
	err := c.withDeadline(ctx, func(ctx context.Context) error {
		return c.proto.Connect(ctx, c)
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to connect")
		c.cleanupFailedConnect(ctx)
		c.transition(StatusDisconnected)
		return err
	}

	c.logger.Debug().Msg("Connected")
	c.transition(StatusConnected)
	reconnected = true
	return nil
}

// cleanupFailedConnect gives the protocol a chance to release partial state.
// It must not fail the connect attempt any further.
func (c *Client) cleanupFailedConnect(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Timeout())
	defer cancel()
	if err := c.proto.Disconnect(dctx, c); err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring error from disconnect after failed connect")
	}
}

// Disconnect disconnects from the RPC interface and closes the HTTP client.
// The status is always StatusDisconnected afterwards, even if an error is
// returned. Waiting for the connection lock ignores cancellation of ctx.
func (c *Client) Disconnect(ctx context.Context) error {
	c.logger.Debug().Stringer("status", c.Status()).Msg("disconnect(): Waiting for connection lock")
	if err := c.connLock.Acquire(context.WithoutCancel(ctx), 1); err != nil {
		c.CloseHTTPClient()
		return err
	}

	var err error
	func() {
		defer c.connLock.Release(1)
		c.logger.Debug().Stringer("status", c.Status()).Msg("disconnect(): Acquired connection lock")

		if c.Status() == StatusDisconnected {
			return
		}
		defer c.transition(StatusDisconnected)
		err = c.withDeadline(ctx, func(ctx context.Context) error {
			return c.proto.Disconnect(ctx, c)
		})
		if err != nil {
			c.logger.Debug().Err(err).Msg("disconnect() failed")
		}
	}()

	c.CloseHTTPClient()
	c.logger.Debug().Stringer("status", c.Status()).Msg("disconnect(): Freed connection lock")
	return err
}

// Call calls an RPC method and returns the decoded result. It connects first
// unless the client is already connected.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	c.logger.Debug().Stringer("status", c.Status()).Str("method", method).Msg("Calling")
	if c.Status() != StatusConnected {
		c.logger.Debug().Msg("Auto-connecting")
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	var result any
	err := c.withDeadline(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.proto.Call(ctx, c, method, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close disconnects and makes sure the HTTP client is closed. The Client can
// be used again afterwards.
func (c *Client) Close() error {
	c.logger.Debug().Msg("Closing")
	err := c.Disconnect(context.Background())
	c.CloseHTTPClient()
	return err
}

// Headers returns a copy of the headers sent with every HTTP request.
func (c *Client) Headers() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers.Clone()
}

// SetHeader sets a header that is sent with every HTTP request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	c.headers.Set(key, value)
	c.mu.Unlock()
}

// ClearHeaders removes all headers set with SetHeader.
func (c *Client) ClearHeaders() {
	c.mu.Lock()
	c.headers = make(http.Header)
	c.mu.Unlock()
}
