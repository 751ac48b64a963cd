package qbittorrent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/btrpc/btrpc"
)

// fakeQbittorrent is a minimal WebUI API.
type fakeQbittorrent struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newFakeQbittorrent(t *testing.T, handlers map[string]http.HandlerFunc) *fakeQbittorrent {
	t.Helper()
	f := &fakeQbittorrent{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/api/v2/auth/login":
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("username") == "user" && r.PostForm.Get("password") == "pass" {
				http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session", Path: "/"})
				io.WriteString(w, "Ok.")
				return
			}
			io.WriteString(w, "Fails.")
			return
		case "/api/v2/auth/logout":
			return
		}

		if cookie, err := r.Cookie("SID"); err != nil || cookie.Value != "session" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, "Forbidden")
			return
		}
		if h, ok := handlers[strings.TrimPrefix(r.URL.Path, "/api/v2/")]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeQbittorrent) url(auth string) string {
	return strings.Replace(f.URL, "http://", "http://"+auth, 1)
}

func (f *fakeQbittorrent) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func TestConnectAndCall(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"app/version": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `"4.3.0"`)
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, btrpc.StatusConnected, c.Status())

	result, err := c.Call(context.Background(), "app/version")
	require.NoError(t, err)
	assert.Equal(t, "4.3.0", result)

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"/api/v2/auth/login", "/api/v2/app/version", "/api/v2/auth/logout"}, server.requested())
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "banned",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				io.WriteString(w, "Your IP address has been banned")
			},
			want: btrpc.NewAuthenticationError("Too many failed authentication attempts"),
		},
		{
			name: "wrong credentials",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "Fails.")
			},
			want: btrpc.NewAuthenticationError("Authentication failed"),
		},
		{
			name: "unexpected response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "Something went wrong")
			},
			want: btrpc.NewRPCError("Something went wrong"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c, err := New(btrpc.WithURL(server.URL))
			require.NoError(t, err)
			defer c.Close()

			assert.Equal(t, tt.want, c.Connect(context.Background()))
			assert.Equal(t, btrpc.StatusDisconnected, c.Status())
		})
	}
}

func TestCallErrors(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"torrents/delete": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "Missing hashes")
		},
		"app/buildInfo": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json")
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Call(ctx, "no/such/method")
	assert.Equal(t, btrpc.NewRPCError("Unknown RPC method"), err)

	_, err = c.Call(ctx, "torrents/delete")
	assert.Equal(t, btrpc.NewRPCError("Missing hashes"), err)

	result, err := c.Call(ctx, "app/buildInfo")
	require.NoError(t, err)
	assert.Equal(t, "not json", result)

	_, err = c.Call(ctx, "app/version", Params{}, Params{})
	assert.ErrorIs(t, err, btrpc.ErrValue)
	_, err = c.Call(ctx, "app/version", 123)
	assert.ErrorIs(t, err, btrpc.ErrValue)
}

func TestCallParams(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"torrents/pause": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "abc|def", r.PostForm.Get("hashes"))
			assert.Equal(t, []string{"a", "b"}, r.PostForm["tags"])
			assert.Equal(t, "true", r.PostForm.Get("deleteFiles"))
			assert.Equal(t, "5", r.PostForm.Get("limit"))
		},
		"torrents/add": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "/downloads", r.FormValue("savepath"))
			f, hdr, err := r.FormFile("torrents")
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, "ubuntu.torrent", hdr.Filename)
			data, _ := io.ReadAll(f)
			assert.Equal(t, "d8:announce0:e", string(data))
			io.WriteString(w, "Ok.")
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	result, err := c.Call(ctx, "torrents/pause", Params{
		"hashes":      "abc|def",
		"tags":        []string{"a", "b"},
		"deleteFiles": true,
		"limit":       5,
		"ignored":     nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "", result)

	result, err = c.Call(ctx, "torrents/add", map[string]any{
		"savepath": "/downloads",
		"torrents": btrpc.File{Name: "ubuntu.torrent", Content: []byte("d8:announce0:e")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ok.", result)
}

func TestSessionIsRenewedAfterURLChange(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"app/version": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `"v4.6.2"`)
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "app/version")
	require.NoError(t, err)

	c.URL().SetPassword("wrong")
	_, err = c.Call(context.Background(), "app/version")
	assert.Equal(t, btrpc.NewAuthenticationError("Authentication failed"), err)

	c.URL().SetPassword("pass")
	version, err := c.DaemonVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v4.6.2", version)
}

func TestTypedHelpers(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"torrents/info": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("hashes") == "0123456789abcdef0123456789abcdef01234567" {
				io.WriteString(w, `[{"hash":"0123456789abcdef0123456789abcdef01234567","name":"single","state":"stalledUP","save_path":"/downloads","content_path":"/downloads/single.mkv"}]`)
				return
			}
			if r.PostForm.Get("hashes") != "" {
				io.WriteString(w, `[]`)
				return
			}
			assert.Equal(t, "completed", r.PostForm.Get("filter"))
			io.WriteString(w, `[
				{"hash":"aaa","name":"ubuntu","state":"uploading","save_path":"/downloads","content_path":"/downloads/ubuntu","size":1024,"tags":"linux, iso","added_on":1600000000,"completion_on":-1},
				{"hash":"bbb","name":"debian","state":"pausedUP","save_path":"/data","content_path":"","size":2048}
			]`)
		},
		"torrents/files": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("hash") == "bbb" {
				io.WriteString(w, `[{"index":0,"name":"custom/debian.iso","size":2048}]`)
				return
			}
			io.WriteString(w, `[]`)
		},
		"transfer/info": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"connection_status":"connected","dht_nodes":42,"dl_info_speed":100,"up_info_speed":200}`)
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	torrents, err := c.Torrents(ctx, qbittorrent.TorrentFilterOptions{Filter: qbittorrent.TorrentFilterCompleted})
	require.NoError(t, err)
	require.Len(t, torrents, 2)
	assert.Equal(t, "ubuntu", torrents[0].Name)
	assert.Equal(t, []string{"linux", "iso"}, torrents[0].Tags)
	assert.True(t, torrents[0].IsActivelySeeding())
	assert.True(t, torrents[0].CompletionOn.IsZero())
	assert.Equal(t, int64(1600000000), torrents[0].AddedOn.Unix())
	assert.False(t, torrents[1].IsActivelySeeding())
	assert.Equal(t, "/data/debian", torrents[1].FullPath())

	info, err := c.TransferInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.DHTNodes)
	assert.Equal(t, int64(200), info.UpInfoSpeed)

	seeding, err := c.IsTorrentSeeding(ctx, "0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	assert.True(t, seeding)

	_, err = c.Torrent(ctx, "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
	_, err = c.Torrent(ctx, "fedcba9876543210fedcba9876543210fedcba98")
	assert.ErrorIs(t, err, ErrTorrentNotFound)
}

func TestTorrentByPath(t *testing.T) {
	server := newFakeQbittorrent(t, map[string]http.HandlerFunc{
		"torrents/info": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[
				{"hash":"aaa","name":"ubuntu","state":"uploading","save_path":"/downloads","content_path":"/downloads/ubuntu"},
				{"hash":"bbb","name":"debian","state":"uploading","save_path":"/data","content_path":"/data/debian"}
			]`)
		},
		"torrents/files": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("hash") == "bbb" {
				io.WriteString(w, `[{"index":0,"name":"elsewhere/debian.iso","size":2048}]`)
				return
			}
			io.WriteString(w, `[]`)
		},
	})

	c, err := New(btrpc.WithURL(server.url("user:pass@")))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	tests := []struct {
		path string
		want string
	}{
		{path: "/downloads/ubuntu", want: "aaa"},
		{path: "/downloads/ubuntu/disc/ubuntu.iso", want: "aaa"},
		{path: "/data/elsewhere/debian.iso", want: "bbb"},
		{path: "/nowhere/foo.iso", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			torrent, err := c.TorrentByPath(ctx, tt.path)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, torrent)
				return
			}
			require.NotNil(t, torrent)
			assert.Equal(t, tt.want, torrent.Hash)
		})
	}
}

func TestWrap(t *testing.T) {
	c, err := btrpc.New(&Protocol{})
	require.NoError(t, err)
	qc, err := Wrap(c)
	require.NoError(t, err)
	assert.Same(t, c, qc.Client)
	assert.Equal(t, DefaultURL, qc.URL().String())
}
