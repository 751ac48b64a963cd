package rtorrent

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/s0up4200/btrpc/btrpc"
)

// transport sends an encoded XML-RPC request and returns the response body.
type transport interface {
	request(ctx context.Context, data []byte) (io.ReadCloser, error)
}

// serverProxy performs XML-RPC calls over the transport selected by the URL
// scheme.
type serverProxy struct {
	transport transport
	logger    zerolog.Logger
}

func newServerProxy(c *btrpc.Client) (*serverProxy, error) {
	u, proxyURL := c.URL(), c.ProxyURL()
	logger := *c.Logger()

	var t transport
	var err error
	switch {
	case u.Scheme() == "http" || u.Scheme() == "https":
		t, err = newHTTPTransport(c, u)
	case u.Scheme() == "scgi":
		t, err = newSCGIHostTransport(u, proxyURL, logger)
	case u.Scheme() == "file" && u.Path() != "":
		t, err = newSCGISocketTransport(u, proxyURL, logger)
	default:
		return nil, btrpc.NewValueError("Unsupported protocol: %s", u)
	}
	if err != nil {
		return nil, err
	}
	return &serverProxy{transport: t, logger: logger}, nil
}

func (s *serverProxy) call(ctx context.Context, method string, args ...any) (any, error) {
	data, err := EncodeMethodCall(method, args...)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("method", method).Int("bytes", len(data)).Msg("Sending XML-RPC request")
	body, err := s.transport.request(ctx, data)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return DecodeResponse(body)
}
