package rtorrent

import (
	"context"
	"errors"
	"sync"

	"github.com/s0up4200/btrpc/btrpc"
)

const (
	// Name is the registry name of the rTorrent adapter.
	Name = "rtorrent"
	// Label is the display name of rTorrent.
	Label = "rTorrent"
	// DefaultURL points to network.scgi.open_port on localhost.
	DefaultURL = "scgi://127.0.0.1:5000"
)

var errProxyWithSocket = btrpc.NewValueError("Proxies are not supported for file:// URLs")

// Protocol implements btrpc.Protocol for rTorrent.
//
// Supported URLs:
//   - http[s]://[USERNAME:PASSWORD@]HOST:PORT[/PATH]
//   - scgi://HOST:PORT[/PATH]
//   - file://SOCKET_PATH
type Protocol struct {
	mu     sync.Mutex
	server *serverProxy
}

func (p *Protocol) Name() string       { return Name }
func (p *Protocol) Label() string      { return Label }
func (p *Protocol) DefaultURL() string { return DefaultURL }

// ValidateProxy rejects proxies for Unix domain sockets.
func (p *Protocol) ValidateProxy(u, proxyURL *btrpc.URL) error {
	if u.Scheme() == "file" && proxyURL != nil {
		return errProxyWithSocket
	}
	return nil
}

// Connect creates a new server proxy and checks that rTorrent responds.
func (p *Protocol) Connect(ctx context.Context, c *btrpc.Client) error {
	p.Disconnect(ctx, c)

	server, err := newServerProxy(c)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.server = server
	p.mu.Unlock()

	_, err = p.Call(ctx, c, "system.pid")
	return err
}

// Disconnect drops the server proxy.
func (p *Protocol) Disconnect(ctx context.Context, c *btrpc.Client) error {
	p.mu.Lock()
	p.server = nil
	p.mu.Unlock()
	return nil
}

// Call performs one XML-RPC call.
func (p *Protocol) Call(ctx context.Context, c *btrpc.Client, method string, args ...any) (any, error) {
	p.mu.Lock()
	server := p.server
	p.mu.Unlock()
	if server == nil {
		return nil, btrpc.NewConnectionError("Not connected")
	}

	result, err := server.call(ctx, method, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

// DaemonVersion returns the version of rTorrent, e.g. "0.9.8".
func (p *Protocol) DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error) {
	result, err := c.Call(ctx, "system.client_version")
	if err != nil {
		return "", err
	}
	version, ok := result.(string)
	if !ok {
		return "", btrpc.NewRPCError("Unexpected version: %v", result)
	}
	return version, nil
}

func translateError(err error) error {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		if protoErr.Code == 401 {
			return btrpc.NewAuthenticationError("Authentication failed")
		}
		if protoErr.Reason != "" {
			return btrpc.NewRPCError("%s", protoErr.Reason)
		}
		return btrpc.NewRPCError("%s", protoErr.Error())
	}

	var fault *Fault
	if errors.As(err, &fault) {
		return btrpc.NewRPCError("%s", fault.String)
	}

	return btrpc.ConnectionErrorFrom(err)
}

// Client is a btrpc.Client for rTorrent with a few convenience methods.
type Client struct {
	*btrpc.Client
	proto *Protocol
}

// New returns a Client for rTorrent.
func New(opts ...btrpc.Option) (*Client, error) {
	proto := &Protocol{}
	c, err := btrpc.New(proto, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c, proto: proto}, nil
}

// DaemonVersion returns the version of rTorrent.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	return c.proto.DaemonVersion(ctx, c.Client)
}

// MethodCall is one call in a MultiCall.
type MethodCall struct {
	Method string
	Params []any
}

// MultiCall performs calls with one request through system.multicall and
// returns their results in order. The first failed call is returned as
// RPCError.
func (c *Client) MultiCall(ctx context.Context, calls ...MethodCall) ([]any, error) {
	batch := make([]any, 0, len(calls))
	for _, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		batch = append(batch, map[string]any{
			"methodName": call.Method,
			"params":     params,
		})
	}

	result, err := c.Call(ctx, "system.multicall", batch)
	if err != nil {
		return nil, err
	}
	items, ok := result.([]any)
	if !ok || len(items) != len(calls) {
		return nil, btrpc.NewRPCError("Unexpected multicall response: %v", result)
	}

	results := make([]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case []any:
			if len(v) == 1 {
				results[i] = v[0]
			} else {
				results[i] = v
			}
		case map[string]any:
			msg, _ := v["faultString"].(string)
			return nil, btrpc.NewRPCError("%s: %s", calls[i].Method, msg)
		default:
			return nil, btrpc.NewRPCError("Unexpected multicall response: %v", item)
		}
	}
	return results, nil
}
