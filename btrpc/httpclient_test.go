package btrpc

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientAuth(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAuth bool
	}{
		{name: "both", url: "user:pw@", wantAuth: true},
		{name: "username only", url: "user:@", wantAuth: false},
		{name: "none", url: "", wantAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, pw, ok := r.BasicAuth()
				assert.Equal(t, tt.wantAuth, ok)
				if ok {
					assert.Equal(t, "user", user)
					assert.Equal(t, "pw", pw)
				}
				assert.Equal(t, UserAgent, r.UserAgent())
				w.Write([]byte("ok"))
			}))
			defer server.Close()

			u, err := url.Parse(server.URL)
			require.NoError(t, err)
			c := newTestClient(t, &fakeProtocol{}, WithURL("http://"+tt.url+u.Host))

			resp, err := c.Post(context.Background(), server.URL, "text/plain", nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "OK", resp.Reason)
			assert.Equal(t, "ok", resp.Text())
		})
	}
}

func TestHTTPClientCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "secret"})
			return
		}
		cookie, err := r.Cookie("SID")
		if assert.NoError(t, err) {
			assert.Equal(t, "secret", cookie.Value)
		}
	}))
	defer server.Close()

	c := newTestClient(t, &fakeProtocol{})
	_, err := c.PostForm(context.Background(), server.URL+"/login", nil)
	require.NoError(t, err)
	_, err = c.PostForm(context.Background(), server.URL+"/foo", nil)
	require.NoError(t, err)
}

func TestPostHelpers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "bar", r.Header.Get("X-Foo"))

		switch r.URL.Path {
		case "/form":
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "1", r.PostForm.Get("a"))
		case "/json":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"method":"foo"}`, string(body))
		case "/multipart":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "1", r.FormValue("a"))
			f, hdr, err := r.FormFile("torrents")
			require.NoError(t, err)
			defer f.Close()
			content, _ := io.ReadAll(f)
			assert.Equal(t, "foo.torrent", hdr.Filename)
			assert.Equal(t, "d4:infoe", string(content))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	ctx := context.Background()
	c := newTestClient(t, &fakeProtocol{})
	c.SetHeader("X-Foo", "bar")

	resp, err := c.PostForm(ctx, server.URL+"/form", url.Values{"a": {"1"}})
	require.NoError(t, err)
	var v map[string]bool
	require.NoError(t, resp.JSON(&v))
	assert.True(t, v["ok"])

	_, err = c.PostJSON(ctx, server.URL+"/json", map[string]string{"method": "foo"})
	require.NoError(t, err)

	_, err = c.PostMultipart(ctx, server.URL+"/multipart", url.Values{"a": {"1"}}, map[string]File{
		"torrents": {Name: "foo.torrent", Content: []byte("d4:infoe")},
	})
	require.NoError(t, err)

	_, err = c.PostJSON(ctx, server.URL+"/json", func() {})
	assert.ErrorIs(t, err, ErrValue)
}

func TestPostConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := newTestClient(t, &fakeProtocol{})
	_, err = c.PostForm(context.Background(), "http://"+addr+"/", nil)
	assert.Equal(t, NewConnectionError("Connection refused"), err)
}

func TestProxyDialer(t *testing.T) {
	tests := []struct {
		proxyURL string
		wantErr  string
	}{
		{proxyURL: "socks5://localhost:1080"},
		{proxyURL: "socks5h://user:pw@localhost:1080"},
		{proxyURL: "http://localhost:3128"},
		{proxyURL: "socks4://localhost:1080"},
		{proxyURL: "socks4a://user@localhost:1080"},
		{proxyURL: "http://user:pw@localhost"},
		{proxyURL: "ftp://localhost:21", wantErr: "Unsupported proxy protocol: ftp"},
		{proxyURL: "socks5://:1080", wantErr: "Missing proxy host: socks5://:1080"},
	}

	for _, tt := range tests {
		t.Run(tt.proxyURL, func(t *testing.T) {
			_, err := proxyDialer(MustParseURL(tt.proxyURL))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, NewValueError("%s", tt.wantErr), err)
		})
	}
}

// newConnectProxy returns a proxy that tunnels CONNECT requests.
func newConnectProxy(t *testing.T, wantAuth string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Proxy-Authorization") != wantAuth {
			http.Error(w, "nope", http.StatusProxyAuthRequired)
			return
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		buf.WriteString("HTTP/1.1 200 Connection established\r\n\r\n")
		buf.Flush()
		go func() {
			io.Copy(upstream, conn)
			upstream.Close()
		}()
		io.Copy(conn, upstream)
		conn.Close()
	}))
}

func TestDialContextThroughConnectProxy(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echo.Close()
	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("echo " + line))
	}()

	// "user:pw" in base64
	proxy := newConnectProxy(t, "Basic dXNlcjpwdw==")
	defer proxy.Close()
	pu, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	conn, err := DialContext(context.Background(), MustParseURL("http://user:pw@"+pu.Host), "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo hello\n", line)

	_, err = DialContext(context.Background(), MustParseURL("http://"+pu.Host), "tcp", echo.Addr().String())
	assert.ErrorIs(t, err, ErrConnection)
}

// newSOCKS4Proxy returns the address of a SOCKS4 proxy that grants one
// request and then echoes lines itself instead of connecting anywhere.
func newSOCKS4Proxy(t *testing.T) (string, <-chan string) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	requests := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil || header[0] != 4 || header[1] != 1 {
			conn.Write([]byte{0, 91, 0, 0, 0, 0, 0, 0})
			return
		}
		// User ID
		if _, err := r.ReadString(0); err != nil {
			return
		}
		port := int(header[2])<<8 | int(header[3])
		requests <- net.JoinHostPort(net.IP(header[4:8]).String(), strconv.Itoa(port))

		conn.Write([]byte{0, 90, 0, 0, 0, 0, 0, 0})
		line, _ := r.ReadString('\n')
		conn.Write([]byte("echo " + line))
	}()
	return l.Addr().String(), requests
}

func TestDialContextThroughSOCKS4Proxy(t *testing.T) {
	addr, requests := newSOCKS4Proxy(t)

	conn, err := DialContext(context.Background(), MustParseURL("socks4://"+addr), "tcp", "127.0.0.1:5000")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "127.0.0.1:5000", <-requests)

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo hello\n", line)
}

func TestHTTPClientThroughSOCKS4Proxy(t *testing.T) {
	c := newTestClient(t, &fakeProtocol{},
		WithURL("http://localhost:9091"),
		WithProxyURL("socks4://localhost:1080"))

	client, err := c.HTTPClient()
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestDialContextCancelledDuringProxyDial(t *testing.T) {
	// Accepts but never answers the SOCKS4 handshake
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		<-stop
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = DialContext(ctx, MustParseURL("socks4://"+l.Addr().String()), "tcp", "127.0.0.1:5000")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
