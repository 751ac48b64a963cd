package qbittorrent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/s0up4200/btrpc/btrpc"
)

const (
	// Name is the registry name of the qBittorrent adapter.
	Name = "qbittorrent"
	// Label is the display name of qBittorrent.
	Label = "qBittorrent"
	// DefaultURL is the default address of the WebUI.
	DefaultURL = "http://localhost:8080"
)

// Params are the parameters of a WebUI API call. Values are sent as strings,
// slices as repeated fields and btrpc.File values as multipart uploads.
type Params map[string]any

// Protocol implements btrpc.Protocol for the qBittorrent WebUI API.
type Protocol struct{}

func (p *Protocol) Name() string       { return Name }
func (p *Protocol) Label() string      { return Label }
func (p *Protocol) DefaultURL() string { return DefaultURL }

func (p *Protocol) endpoint(c *btrpc.Client, method string) string {
	return c.URL().String() + "/api/v2/" + strings.TrimPrefix(method, "/")
}

// Connect logs in with the URL's credentials. The session cookie is kept by
// the HTTP client.
func (p *Protocol) Connect(ctx context.Context, c *btrpc.Client) error {
	u := c.URL()
	resp, err := c.PostForm(ctx, p.endpoint(c, "auth/login"), url.Values{
		"username": {u.Username()},
		"password": {u.Password()},
	})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return btrpc.NewAuthenticationError("Too many failed authentication attempts")
	case resp.Text() == "Fails.":
		return btrpc.NewAuthenticationError("Authentication failed")
	case resp.Text() != "Ok.":
		return btrpc.NewRPCError("%s", resp.Text())
	}
	return nil
}

// Disconnect logs out. Failures are only logged because the session is
// discarded with the HTTP client anyway.
func (p *Protocol) Disconnect(ctx context.Context, c *btrpc.Client) error {
	if _, err := c.PostForm(ctx, p.endpoint(c, "auth/logout"), nil); err != nil {
		c.Logger().Debug().Err(err).Msg("Failed to log out")
	}
	return nil
}

// Call calls the API method, e.g. "torrents/info". args may be empty or a
// single Params, map[string]any or url.Values. The JSON-decoded response is
// returned, or the response text if it isn't JSON.
func (p *Protocol) Call(ctx context.Context, c *btrpc.Client, method string, args ...any) (any, error) {
	fields, files, err := encodeParams(args)
	if err != nil {
		return nil, err
	}

	var resp *btrpc.Response
	if len(files) > 0 {
		resp, err = c.PostMultipart(ctx, p.endpoint(c, method), fields, files)
	} else {
		resp, err = c.PostForm(ctx, p.endpoint(c, method), fields)
	}
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, btrpc.NewRPCError("Unknown RPC method")
	default:
		return nil, btrpc.NewRPCError("%s", resp.Text())
	}

	var result any
	if err := resp.JSON(&result); err != nil {
		return resp.Text(), nil
	}
	return result, nil
}

// DaemonVersion returns the application version, e.g. "v4.3.0".
func (p *Protocol) DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error) {
	result, err := c.Call(ctx, "app/version")
	if err != nil {
		return "", err
	}
	return fmt.Sprint(result), nil
}

func encodeParams(args []any) (url.Values, map[string]btrpc.File, error) {
	if len(args) == 0 {
		return nil, nil, nil
	}
	if len(args) > 1 {
		return nil, nil, btrpc.NewValueError("Expected one set of parameters, got %d", len(args))
	}

	var params map[string]any
	switch v := args[0].(type) {
	case nil:
		return nil, nil, nil
	case url.Values:
		return v, nil, nil
	case Params:
		params = v
	case map[string]any:
		params = v
	default:
		return nil, nil, btrpc.NewValueError("Invalid parameters: %v", args[0])
	}

	fields := url.Values{}
	files := map[string]btrpc.File{}
	for key, value := range params {
		switch v := value.(type) {
		case nil:
		case btrpc.File:
			files[key] = v
		case *btrpc.File:
			files[key] = *v
		case string:
			fields.Add(key, v)
		case []string:
			for _, s := range v {
				fields.Add(key, s)
			}
		default:
			rv := reflect.ValueOf(value)
			if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
				for i := 0; i < rv.Len(); i++ {
					fields.Add(key, fmt.Sprint(rv.Index(i).Interface()))
				}
				continue
			}
			fields.Add(key, fmt.Sprint(value))
		}
	}
	return fields, files, nil
}

// Client is a btrpc.Client for qBittorrent with typed helpers.
type Client struct {
	*btrpc.Client
	proto *Protocol
}

// New returns a Client for qBittorrent.
func New(opts ...btrpc.Option) (*Client, error) {
	proto := &Protocol{}
	c, err := btrpc.New(proto, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c, proto: proto}, nil
}

// Wrap returns a Client for c, which must have been created with a
// Protocol from this package, e.g. by the clients registry.
func Wrap(c *btrpc.Client) (*Client, error) {
	proto, ok := c.Protocol().(*Protocol)
	if !ok {
		return nil, btrpc.NewValueError("Not a %s client: %s", Label, c.Label())
	}
	return &Client{Client: c, proto: proto}, nil
}

// DaemonVersion returns the application version.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	return c.proto.DaemonVersion(ctx, c.Client)
}
