package qbittorrent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/autobrr/go-qbittorrent"
)

var hashRegex = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{64})$`)

// decode converts a JSON-decoded result into v.
func decode(result any, v any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func filterParams(opts qbittorrent.TorrentFilterOptions) Params {
	params := Params{}
	if opts.Filter != "" {
		params["filter"] = string(opts.Filter)
	}
	if opts.Category != "" {
		params["category"] = opts.Category
	}
	if opts.Tag != "" {
		params["tag"] = opts.Tag
	}
	if opts.Sort != "" {
		params["sort"] = opts.Sort
	}
	if opts.Reverse {
		params["reverse"] = "true"
	}
	if opts.Limit > 0 {
		params["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		params["offset"] = strconv.Itoa(opts.Offset)
	}
	if len(opts.Hashes) > 0 {
		params["hashes"] = strings.Join(opts.Hashes, "|")
	}
	return params
}

// Torrents retrieves the torrents matching opts.
func (c *Client) Torrents(ctx context.Context, opts qbittorrent.TorrentFilterOptions) ([]*TorrentInfo, error) {
	result, err := c.Call(ctx, "torrents/info", filterParams(opts))
	if err != nil {
		return nil, err
	}

	var torrents []qbittorrent.Torrent
	if err := decode(result, &torrents); err != nil {
		return nil, err
	}
	c.Logger().Debug().Msgf("Retrieved %d torrents from qBittorrent", len(torrents))

	results := make([]*TorrentInfo, 0, len(torrents))
	for _, t := range torrents {
		results = append(results, newTorrentInfo(t))
	}
	return results, nil
}

// Torrent retrieves a single torrent by info hash.
func (c *Client) Torrent(ctx context.Context, hash string) (*TorrentInfo, error) {
	if !hashRegex.MatchString(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	torrents, err := c.Torrents(ctx, qbittorrent.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, hash)
	}
	return torrents[0], nil
}

// TorrentFiles returns the paths of the files in a torrent relative to its
// save path.
func (c *Client) TorrentFiles(ctx context.Context, hash string) ([]string, error) {
	result, err := c.Call(ctx, "torrents/files", Params{"hash": hash})
	if err != nil {
		return nil, err
	}

	var files qbittorrent.TorrentFiles
	if err := decode(result, &files); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Name)
	}
	return paths, nil
}

// TorrentByPath finds the torrent that contains filePath. It returns nil if
// no torrent contains it.
func (c *Client) TorrentByPath(ctx context.Context, filePath string) (*TorrentInfo, error) {
	torrents, err := c.Torrents(ctx, qbittorrent.TorrentFilterOptions{})
	if err != nil {
		return nil, err
	}

	searchPath := filepath.Clean(filePath)
	for _, torrent := range torrents {
		torrentPath := filepath.Clean(torrent.FullPath())

		if torrentPath == searchPath {
			c.Logger().Debug().
				Str("torrent", torrent.Name).
				Str("path", filePath).
				Msg("Found exact match for file in torrent")
			return torrent, nil
		}

		if strings.HasPrefix(searchPath, torrentPath+string(filepath.Separator)) {
			c.Logger().Debug().
				Str("torrent", torrent.Name).
				Str("path", filePath).
				Msg("Found file within torrent directory")
			return torrent, nil
		}

		// Multi-file torrents with a custom layout
		files, err := c.TorrentFiles(ctx, torrent.Hash)
		if err != nil {
			c.Logger().Warn().Err(err).Str("hash", torrent.Hash).Msg("Failed to get torrent files")
			continue
		}
		for _, file := range files {
			if filepath.Clean(filepath.Join(torrent.SavePath, file)) == searchPath {
				c.Logger().Debug().
					Str("torrent", torrent.Name).
					Str("file", file).
					Msg("Found file in multi-file torrent")
				torrent.Files = append(torrent.Files, file)
				return torrent, nil
			}
		}
	}
	return nil, nil
}

// IsTorrentSeeding reports whether the torrent with hash is seeding.
func (c *Client) IsTorrentSeeding(ctx context.Context, hash string) (bool, error) {
	torrent, err := c.Torrent(ctx, hash)
	if err != nil {
		return false, err
	}
	return torrent.IsActivelySeeding(), nil
}

// TransferInfo returns global transfer statistics.
func (c *Client) TransferInfo(ctx context.Context) (*qbittorrent.TransferInfo, error) {
	result, err := c.Call(ctx, "transfer/info")
	if err != nil {
		return nil, err
	}
	var info qbittorrent.TransferInfo
	if err := decode(result, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
