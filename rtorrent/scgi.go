package rtorrent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/s0up4200/btrpc/btrpc"
)

const (
	scgiChunkSize   = 1024
	scgiDefaultPath = "/RPC2"
)

var headersDelimiter = []byte("\r\n\r\n")

// encodeSCGIRequest frames body as an SCGI request for path.
func encodeSCGIRequest(path string, body []byte) []byte {
	var headers bytes.Buffer
	header := func(key, value string) {
		headers.WriteString(key)
		headers.WriteByte(0)
		headers.WriteString(value)
		headers.WriteByte(0)
	}
	header("CONTENT_LENGTH", strconv.Itoa(len(body)))
	header("SCGI", "1")
	header("REQUEST_METHOD", "POST")
	header("REQUEST_URI", path)

	var b bytes.Buffer
	b.WriteString(strconv.Itoa(headers.Len()))
	b.WriteByte(':')
	b.Write(headers.Bytes())
	b.WriteByte(',')
	b.Write(body)
	return b.Bytes()
}

// scgiTransport talks SCGI over a fresh connection per request.
type scgiTransport struct {
	dial   func(ctx context.Context) (net.Conn, error)
	path   string
	logger zerolog.Logger
}

// newSCGIHostTransport connects to network.scgi.open_port.
func newSCGIHostTransport(u, proxyURL *btrpc.URL, logger zerolog.Logger) (*scgiTransport, error) {
	if u.Scheme() != "scgi" {
		return nil, btrpc.NewValueError("Unsupported protocol: %s", u.Scheme())
	}
	if u.Port() == "" {
		return nil, btrpc.NewValueError("No port specified")
	}

	path := u.Path()
	if path == "" {
		path = scgiDefaultPath
	}
	addr := net.JoinHostPort(u.Host(), u.Port())
	return &scgiTransport{
		dial: func(ctx context.Context) (net.Conn, error) {
			return btrpc.DialContext(ctx, proxyURL, "tcp", addr)
		},
		path:   path,
		logger: logger,
	}, nil
}

// newSCGISocketTransport connects to network.scgi.open_local.
func newSCGISocketTransport(u, proxyURL *btrpc.URL, logger zerolog.Logger) (*scgiTransport, error) {
	if u.Scheme() != "file" {
		return nil, btrpc.NewValueError("Unsupported protocol: %s", u.Scheme())
	}
	if proxyURL != nil {
		return nil, errProxyWithSocket
	}

	socketPath := u.Path()
	return &scgiTransport{
		dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "unix", socketPath)
			if err != nil {
				return nil, btrpc.ConnectionErrorFrom(err)
			}
			return conn, nil
		},
		path:   scgiDefaultPath,
		logger: logger,
	}, nil
}

func (t *scgiTransport) request(ctx context.Context, data []byte) (io.ReadCloser, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// Unblock reads and writes when ctx is canceled
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	if _, err := conn.Write(encodeSCGIRequest(t.path, data)); err != nil {
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, btrpc.ConnectionErrorFrom(err)
	}

	resp := newSCGIResponse(ctx, conn, scgiChunkSize, t.logger)
	resp.stop = stop
	return resp, nil
}

// scgiResponse yields the body of an SCGI response. Headers up to the first
// empty line are dropped. The connection is closed when the response was
// read completely or Close is called.
type scgiResponse struct {
	ctx     context.Context
	conn    io.ReadCloser
	logger  zerolog.Logger
	buf     []byte
	headers []byte
	inBody  bool
	pending []byte
	err     error
	once    sync.Once
	stop    func() bool
}

func newSCGIResponse(ctx context.Context, conn io.ReadCloser, chunkSize int, logger zerolog.Logger) *scgiResponse {
	return &scgiResponse{
		ctx:    ctx,
		conn:   conn,
		logger: logger,
		buf:    make([]byte, chunkSize),
	}
}

// next returns the next chunk of the body. The chunk is valid until the next
// call. io.EOF is returned after the last chunk.
func (r *scgiResponse) next() ([]byte, error) {
	for r.err == nil {
		n, err := r.conn.Read(r.buf)
		if err != nil {
			r.fail(err)
		}
		if n == 0 {
			continue
		}

		chunk := r.buf[:n]
		r.logger.Trace().Int("bytes", n).Msg("Got SCGI chunk")
		if r.inBody {
			return chunk, nil
		}

		r.headers = append(r.headers, chunk...)
		if i := bytes.Index(r.headers, headersDelimiter); i >= 0 {
			body := r.headers[i+len(headersDelimiter):]
			r.headers = nil
			r.inBody = true
			if len(body) > 0 {
				return body, nil
			}
		}
	}
	return nil, r.err
}

func (r *scgiResponse) fail(err error) {
	switch {
	case errors.Is(err, io.EOF):
		r.err = io.EOF
	case r.ctx.Err() != nil:
		r.err = r.ctx.Err()
	default:
		r.err = btrpc.ConnectionErrorFrom(err)
	}
	r.Close()
}

func (r *scgiResponse) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, err := r.next()
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close closes the connection. It is safe to call more than once.
func (r *scgiResponse) Close() error {
	var err error
	r.once.Do(func() {
		if r.stop != nil {
			r.stop()
		}
		err = r.conn.Close()
	})
	return err
}
