package transmission

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/s0up4200/btrpc/btrpc"
)

const (
	// Name is the registry name of the Transmission adapter.
	Name = "transmission"
	// Label is the display name of Transmission.
	Label = "Transmission"
	// DefaultURL is the default RPC endpoint.
	DefaultURL = "http://localhost:9091/transmission/rpc"

	// SessionHeader carries the CSRF token Transmission hands out with 409
	// responses.
	SessionHeader = "X-Transmission-Session-Id"
)

// Arguments are the arguments of an RPC call. The reserved key "tag" is sent
// as the request tag and must be a number.
type Arguments map[string]any

// Protocol implements btrpc.Protocol for the Transmission RPC interface.
type Protocol struct{}

func (p *Protocol) Name() string       { return Name }
func (p *Protocol) Label() string      { return Label }
func (p *Protocol) DefaultURL() string { return DefaultURL }

type request struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Tag       *int64         `json:"tag,omitempty"`
}

func newRequest(method string, args []any) (*request, error) {
	req := &request{Method: method}
	if len(args) == 0 {
		return req, nil
	}
	if len(args) > 1 {
		return nil, btrpc.NewValueError("Expected one set of arguments, got %d", len(args))
	}

	var arguments map[string]any
	switch v := args[0].(type) {
	case nil:
		return req, nil
	case Arguments:
		arguments = v
	case map[string]any:
		arguments = v
	default:
		return nil, btrpc.NewValueError("Invalid arguments: %v", args[0])
	}

	params := make(map[string]any, len(arguments))
	for key, value := range arguments {
		if key != "tag" {
			params[key] = value
			continue
		}
		tag, err := parseTag(value)
		if err != nil {
			return nil, err
		}
		if tag != 0 {
			req.Tag = &tag
		}
	}
	if len(params) > 0 {
		req.Arguments = params
	}
	return req, nil
}

func parseTag(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return int64(v), nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), nil
		}
	}
	return 0, btrpc.NewValueError("Tag must be a number: %#v", value)
}

func (p *Protocol) post(ctx context.Context, c *btrpc.Client, req *request) (*btrpc.Response, error) {
	return c.PostJSON(ctx, c.URL().String(), req)
}

// send posts req. A 409 means the session id expired or was never set: the
// new id is stored and the request is sent once more.
func (p *Protocol) send(ctx context.Context, c *btrpc.Client, req *request) (*btrpc.Response, error) {
	resp, err := p.post(ctx, c, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusConflict {
		return resp, nil
	}

	sessionID := resp.Header.Get(SessionHeader)
	c.Logger().Debug().Str(SessionHeader, sessionID).Msg("Setting CSRF header")
	c.SetHeader(SessionHeader, sessionID)
	return p.post(ctx, c, req)
}

// Connect probes session-stats, picking up the session id on the way.
func (p *Protocol) Connect(ctx context.Context, c *btrpc.Client) error {
	resp, err := p.send(ctx, c, &request{Method: "session-stats"})
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return btrpc.NewAuthenticationError("Authentication failed")
	default:
		c.Logger().Debug().Int("status", resp.StatusCode).Str("body", resp.Text()).Msg("Unexpected response")
		return btrpc.NewRPCError("Failed to connect")
	}
}

// Disconnect forgets the session id.
func (p *Protocol) Disconnect(ctx context.Context, c *btrpc.Client) error {
	c.ClearHeaders()
	return nil
}

// Call sends method with optional Arguments and returns the whole reply,
// i.e. a map with "result", "arguments" and "tag".
func (p *Protocol) Call(ctx context.Context, c *btrpc.Client, method string, args ...any) (any, error) {
	req, err := newRequest(method, args)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, c, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, btrpc.NewAuthenticationError("Authentication failed")
	}

	var reply map[string]any
	if err := resp.JSON(&reply); err != nil {
		return nil, btrpc.NewRPCError("Unexpected response: %s", resp.Text())
	}
	result, _ := reply["result"].(string)
	if result != "success" {
		return nil, btrpc.NewRPCError("%s", capitalize(result))
	}
	return reply, nil
}

// DaemonVersion returns the version reported by session-get, e.g.
// "4.0.5 (a6fe2a64aa)".
func (p *Protocol) DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error) {
	result, err := c.Call(ctx, "session-get", Arguments{"fields": []string{"version"}})
	if err != nil {
		return "", err
	}
	arguments, _ := result.(map[string]any)["arguments"].(map[string]any)
	version, ok := arguments["version"].(string)
	if !ok {
		return "", btrpc.NewRPCError("Unexpected response: %v", result)
	}
	return version, nil
}

func capitalize(s string) string {
	if s == "" {
		return "Unknown error"
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Client is a btrpc.Client for Transmission.
type Client struct {
	*btrpc.Client
	proto *Protocol
}

// New returns a Client for Transmission.
func New(opts ...btrpc.Option) (*Client, error) {
	proto := &Protocol{}
	c, err := btrpc.New(proto, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c, proto: proto}, nil
}

// DaemonVersion returns the daemon version.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	return c.proto.DaemonVersion(ctx, c.Client)
}

// Torrents returns the requested fields of the torrents with ids, or of all
// torrents if ids is empty.
func (c *Client) Torrents(ctx context.Context, fields []string, ids ...any) ([]map[string]any, error) {
	args := Arguments{"fields": fields}
	if len(ids) > 0 {
		args["ids"] = ids
	}
	result, err := c.Call(ctx, "torrent-get", args)
	if err != nil {
		return nil, err
	}

	arguments, _ := result.(map[string]any)["arguments"].(map[string]any)
	list, _ := arguments["torrents"].([]any)
	torrents := make([]map[string]any, 0, len(list))
	for _, item := range list {
		torrent, ok := item.(map[string]any)
		if !ok {
			return nil, btrpc.NewRPCError("Unexpected torrent: %v", item)
		}
		torrents = append(torrents, torrent)
	}
	return torrents, nil
}
