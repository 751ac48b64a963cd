// Package clients is the registry of all supported BitTorrent clients.
package clients

import (
	"context"
	"slices"
	"strings"

	"github.com/blang/semver"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/deluge"
	"github.com/s0up4200/btrpc/qbittorrent"
	"github.com/s0up4200/btrpc/rtorrent"
	"github.com/s0up4200/btrpc/transmission"
)

// Versioner is implemented by protocols that can report the daemon version.
type Versioner interface {
	DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error)
}

type constructor func() btrpc.Protocol

var registry = map[string]constructor{
	deluge.Name:       func() btrpc.Protocol { return &deluge.Protocol{} },
	qbittorrent.Name:  func() btrpc.Protocol { return &qbittorrent.Protocol{} },
	rtorrent.Name:     func() btrpc.Protocol { return &rtorrent.Protocol{} },
	transmission.Name: func() btrpc.Protocol { return &transmission.Protocol{} },
}

// Names returns the names of all clients, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Protocol returns a new Protocol for the client called name.
func Protocol(name string) (btrpc.Protocol, error) {
	newProto, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, btrpc.NewValueError("No such client: %s", name)
	}
	return newProto(), nil
}

// New returns a Client for the client called name.
func New(name string, opts ...btrpc.Option) (*btrpc.Client, error) {
	proto, err := Protocol(name)
	if err != nil {
		return nil, err
	}
	return btrpc.New(proto, opts...)
}

// DaemonVersion returns the version string reported by the daemon.
func DaemonVersion(ctx context.Context, c *btrpc.Client) (string, error) {
	v, ok := c.Protocol().(Versioner)
	if !ok {
		return "", btrpc.NewValueError("%s does not report its version", c.Label())
	}
	return v.DaemonVersion(ctx, c)
}

// Version returns the daemon version as a semantic version. Prefixes like
// "v" and suffixes like "-dev" or " (a6fe2a64aa)" are tolerated.
func Version(ctx context.Context, c *btrpc.Client) (semver.Version, error) {
	raw, err := DaemonVersion(ctx, c)
	if err != nil {
		return semver.Version{}, err
	}
	return ParseVersion(raw)
}

// ParseVersion parses a version string as reported by a daemon.
func ParseVersion(raw string) (semver.Version, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, " _"); i >= 0 {
		s = s[:i]
	}
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return semver.Version{}, btrpc.NewValueError("Invalid version: %s", raw)
	}
	return v, nil
}
