package deluge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/s0up4200/btrpc/btrpc"
)

const (
	// Name is the registry name of the Deluge adapter.
	Name = "deluge"
	// Label is the display name of Deluge.
	Label = "Deluge"
	// DefaultURL is the default JSON-RPC endpoint of the web UI.
	DefaultURL = "http://localhost:8112/json"
	// DefaultTimeout is longer than usual because the web UI proxies every
	// call to the daemon.
	DefaultTimeout = 10 * time.Second
)

// Events are the events the daemon can push to the web UI.
var Events = []string{
	"ClientDisconnectedEvent",
	"ConfigValueChangedEvent",
	"CreateTorrentProgressEvent",
	"ExternalIPEvent",
	"NewVersionAvailableEvent",
	"PluginDisabledEvent",
	"PluginEnabledEvent",
	"PreTorrentRemovedEvent",
	"SessionPausedEvent",
	"SessionResumedEvent",
	"SessionStartedEvent",
	"TorrentAddedEvent",
	"TorrentFileCompletedEvent",
	"TorrentFileRenamedEvent",
	"TorrentFinishedEvent",
	"TorrentFolderRenamedEvent",
	"TorrentQueueChangedEvent",
	"TorrentRemovedEvent",
	"TorrentResumedEvent",
	"TorrentStateChangedEvent",
	"TorrentStorageMovedEvent",
	"TorrentTrackerStatusEvent",
}

// Protocol implements btrpc.Protocol and btrpc.EventProtocol for the Deluge
// web UI.
type Protocol struct {
	lastID atomic.Int64
}

func (p *Protocol) Name() string                  { return Name }
func (p *Protocol) Label() string                 { return Label }
func (p *Protocol) DefaultURL() string            { return DefaultURL }
func (p *Protocol) DefaultTimeout() time.Duration { return DefaultTimeout }
func (p *Protocol) Events() []string              { return Events }

type request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
	ID int64 `json:"id"`
}

// request sends one JSON-RPC request without connecting first.
func (p *Protocol) request(ctx context.Context, c *btrpc.Client, method string, params ...any) (any, error) {
	if params == nil {
		params = []any{}
	}
	req := request{Method: method, Params: params, ID: p.lastID.Add(1)}

	resp, err := c.PostJSON(ctx, c.URL().String(), req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, btrpc.NewRPCError("%s", resp.Reason)
	}

	var reply response
	if err := resp.JSON(&reply); err != nil {
		return nil, btrpc.NewRPCError("Unexpected response: %s", resp.Text())
	}
	if reply.Error != nil {
		return nil, btrpc.NewRPCError("%s", reply.Error.Message)
	}
	if reply.ID != req.ID {
		return nil, btrpc.NewRPCError("Unexpected response ID: %d", reply.ID)
	}

	var result any
	if len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, &result); err != nil {
			return nil, btrpc.NewRPCError("Unexpected result: %s", reply.Result)
		}
	}
	return result, nil
}

// Connect logs in to the web UI and makes sure it is connected to a
// daemon. The first configured daemon is used if it isn't.
func (p *Protocol) Connect(ctx context.Context, c *btrpc.Client) error {
	loggedIn, err := p.request(ctx, c, "auth.login", c.URL().Password())
	if err != nil {
		return err
	}
	if loggedIn != true {
		return btrpc.NewAuthenticationError("Authentication failed")
	}

	connected, err := p.request(ctx, c, "web.connected")
	if err != nil {
		return err
	}
	if connected == true {
		return nil
	}

	result, err := p.request(ctx, c, "web.get_hosts")
	if err != nil {
		return err
	}
	hosts, _ := result.([]any)
	if len(hosts) == 0 {
		return btrpc.NewConnectionError("No daemon configured")
	}
	host, _ := hosts[0].([]any)
	if len(host) == 0 {
		return btrpc.NewRPCError("Unexpected host: %v", hosts[0])
	}
	c.Logger().Debug().Interface("host", host).Msg("Connecting web UI to daemon")

	_, err = p.request(ctx, c, "web.connect", host[0])
	return err
}

// Disconnect ends the web session. Errors are ignored because the session
// cookie is discarded with the HTTP client.
func (p *Protocol) Disconnect(ctx context.Context, c *btrpc.Client) error {
	if _, err := p.request(ctx, c, "auth.delete_session"); err != nil {
		c.Logger().Debug().Err(err).Msg("Failed to delete session")
	}
	return nil
}

// Call calls method with positional params, e.g.
// "core.get_torrents_status", map[string]any{}, []string{"name"}.
func (p *Protocol) Call(ctx context.Context, c *btrpc.Client, method string, args ...any) (any, error) {
	return p.request(ctx, c, method, args...)
}

func (p *Protocol) Subscribe(ctx context.Context, c *btrpc.Client, event string) error {
	_, err := c.Call(ctx, "web.register_event_listener", event)
	return err
}

func (p *Protocol) Unsubscribe(ctx context.Context, c *btrpc.Client, event string) error {
	_, err := c.Call(ctx, "web.deregister_event_listener", event)
	return err
}

// DaemonVersion returns the version of the daemon, e.g. "2.1.1".
func (p *Protocol) DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error) {
	result, err := c.Call(ctx, "daemon.info")
	if err != nil {
		return "", err
	}
	version, ok := result.(string)
	if !ok {
		return "", btrpc.NewRPCError("Unexpected response: %v", result)
	}
	return version, nil
}

// Client is a btrpc.Client for Deluge.
type Client struct {
	*btrpc.Client
	proto *Protocol
}

// New returns a Client for Deluge.
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

// DaemonVersion returns the daemon version.
func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	return c.proto.DaemonVersion(ctx, c.Client)
}

// PollEvents fetches the events queued by the web UI and emits them. It
// returns the number of events.
func (c *Client) PollEvents(ctx context.Context) (int, error) {
	result, err := c.Call(ctx, "web.get_events")
	if err != nil {
		return 0, err
	}

	events, _ := result.([]any)
	for _, item := range events {
		event, ok := item.([]any)
		if !ok || len(event) == 0 {
			return 0, btrpc.NewRPCError("Unexpected event: %v", item)
		}
		name := fmt.Sprint(event[0])
		var args []any
		if len(event) > 1 {
			args, _ = event[1].([]any)
		}
		c.Logger().Debug().Str("event", name).Interface("args", args).Msg("Received event")
		c.Emit(name, args...)
	}
	return len(events), nil
}

// WatchEvents calls PollEvents every interval until ctx is done. Failed
// polls are logged and retried.
func (c *Client) WatchEvents(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.PollEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Logger().Warn().Err(err).Msg("Failed to poll events")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
