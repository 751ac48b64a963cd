package qbittorrent

import "errors"

// Errors returned by the typed helpers of Client.
var (
	// ErrTorrentNotFound is returned when a torrent is not found.
	ErrTorrentNotFound = errors.New("torrent not found")

	// ErrInvalidHash is returned when a torrent hash is invalid.
	ErrInvalidHash = errors.New("invalid torrent hash")
)
