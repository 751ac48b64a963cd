package config

import (
	"context"

	"github.com/s0up4200/btrpc/btrpc"
)

type testProtocol struct{}

func (p *testProtocol) Name() string       { return "test" }
func (p *testProtocol) Label() string      { return "Test" }
func (p *testProtocol) DefaultURL() string { return "http://default:1234" }

func (p *testProtocol) Connect(ctx context.Context, c *btrpc.Client) error    { return nil }
func (p *testProtocol) Disconnect(ctx context.Context, c *btrpc.Client) error { return nil }

func (p *testProtocol) Call(ctx context.Context, c *btrpc.Client, method string, args ...any) (any, error) {
	return nil, nil
}
