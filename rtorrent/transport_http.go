package rtorrent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/s0up4200/btrpc/btrpc"
)

// ProtocolError is a non-200 HTTP response to an XML-RPC request.
type ProtocolError struct {
	URL    string
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("<ProtocolError for %s: %d %s>", e.URL, e.Code, e.Reason)
}

// httpTransport sends XML-RPC requests to a reverse proxy in front of
// rTorrent, e.g. ruTorrent's /RPC2.
type httpTransport struct {
	client *btrpc.Client
	url    string
}

func newHTTPTransport(c *btrpc.Client, u *btrpc.URL) (*httpTransport, error) {
	if s := u.Scheme(); s != "http" && s != "https" {
		return nil, btrpc.NewValueError("Unsupported protocol: %s", s)
	}
	// Credentials are sent by the HTTP client
	u = u.Clone()
	if u.Path() == "" {
		u.SetPath(scgiDefaultPath)
	}
	return &httpTransport{client: c, url: u.WithoutAuth()}, nil
}

func (t *httpTransport) request(ctx context.Context, data []byte) (io.ReadCloser, error) {
	resp, err := t.client.Do(ctx, t.url, "text/xml", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &ProtocolError{
			URL:    t.url,
			Code:   resp.StatusCode,
			Reason: btrpc.ReasonPhrase(resp),
		}
	}
	return &bodyReader{ReadCloser: resp.Body}, nil
}

// bodyReader reports network failures while streaming as ConnectionError.
type bodyReader struct {
	io.ReadCloser
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = btrpc.ConnectionErrorFrom(err)
	}
	return n, err
}
