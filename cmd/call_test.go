package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/btrpc/btrpc"
	"github.com/s0up4200/btrpc/config"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{in: "completed", want: "completed"},
		{in: "42", want: int64(42)},
		{in: "2.5", want: 2.5},
		{in: "true", want: true},
		{in: `""`, want: ""},
		{in: `["id","name"]`, want: []any{"id", "name"}},
		{in: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{in: "d.name=", want: "d.name="},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestParseArgs(t *testing.T) {
	torrent := filepath.Join(t.TempDir(), "ubuntu.torrent")
	require.NoError(t, os.WriteFile(torrent, []byte("d8:announce0:e"), 0o600))

	got, err := parseArgs("qbittorrent", []string{"savepath=/downloads", "torrents=@" + torrent, "paused=true"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{
		"savepath": "/downloads",
		"torrents": btrpc.File{Name: "ubuntu.torrent", Content: []byte("d8:announce0:e")},
		"paused":   true,
	}}, got)

	got, err = parseArgs("transmission", []string{`fields=["name"]`, "ids=1"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"fields": []any{"name"}, "ids": int64(1)}}, got)

	got, err = parseArgs("transmission", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseArgs("qbittorrent", []string{"noequals"})
	assert.EqualError(t, err, "expected key=value: noequals")

	_, err = parseArgs("qbittorrent", []string{"torrents=@/does/not/exist"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	got, err = parseArgs("rtorrent", []string{`""`, "main", "d.hash="})
	require.NoError(t, err)
	assert.Equal(t, []any{"", "main", "d.hash="}, got)
}

func TestNewClient(t *testing.T) {
	cfg = &config.Config{
		Clients: map[string]config.ClientConfig{
			"seedbox": {Client: "rtorrent", URL: "scgi://seedbox:5000", Timeout: "30"},
		},
	}
	t.Cleanup(func() {
		cfg = nil
		urlFlag, timeoutFlag = "", ""
	})

	c, err := newClient("seedbox")
	require.NoError(t, err)
	assert.Equal(t, "rtorrent", c.Name())
	assert.Equal(t, "scgi://seedbox:5000", c.URL().String())

	urlFlag = "http://localhost:8000/RPC2"
	timeoutFlag = "1.5"
	c, err = newClient("seedbox")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/RPC2", c.URL().String())
	assert.Equal(t, "1.5s", c.Timeout().String())

	timeoutFlag = "later"
	_, err = newClient("seedbox")
	assert.EqualError(t, err, "invalid timeout: later")

	_, err = newClient("unknown")
	assert.EqualError(t, err, "no such client or profile: unknown")

	names, err := profiles(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"seedbox"}, names)
}
