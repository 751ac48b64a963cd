package qbittorrent

import (
	"path"
	"strings"
	"time"

	"github.com/autobrr/go-qbittorrent"
)

// TorrentInfo contains information about a torrent
type TorrentInfo struct {
	Hash           string
	Name           string
	SavePath       string
	ContentPath    string
	State          qbittorrent.TorrentState
	Size           int64
	Progress       float64
	DownloadedSize int64
	UploadedSize   int64
	Ratio          float64
	AddedOn        time.Time
	CompletionOn   time.Time
	Category       string
	Tags           []string
	Files          []string
}

func newTorrentInfo(t qbittorrent.Torrent) *TorrentInfo {
	info := &TorrentInfo{
		Hash:           t.Hash,
		Name:           t.Name,
		SavePath:       t.SavePath,
		ContentPath:    t.ContentPath,
		State:          t.State,
		Size:           t.Size,
		Progress:       t.Progress,
		DownloadedSize: t.Downloaded,
		UploadedSize:   t.Uploaded,
		Ratio:          t.Ratio,
		AddedOn:        time.Unix(t.AddedOn, 0),
		Category:       t.Category,
	}
	// qBittorrent reports -1 or 0 for incomplete torrents
	if t.CompletionOn > 0 {
		info.CompletionOn = time.Unix(t.CompletionOn, 0)
	}
	for _, tag := range strings.Split(t.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			info.Tags = append(info.Tags, tag)
		}
	}
	return info
}

// IsActivelySeeding checks if the torrent is actively seeding
func (t *TorrentInfo) IsActivelySeeding() bool {
	switch t.State {
	case qbittorrent.TorrentStateUploading,
		qbittorrent.TorrentStateStalledUp,
		qbittorrent.TorrentStateQueuedUp,
		qbittorrent.TorrentStateForcedUp:
		return true
	}
	return false
}

// FullPath returns the full path to the torrent content
func (t *TorrentInfo) FullPath() string {
	if t.ContentPath != "" {
		return t.ContentPath
	}
	return path.Join(t.SavePath, t.Name)
}
