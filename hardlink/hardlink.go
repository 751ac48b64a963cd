// Package hardlink inspects whether downloaded files share their data with
// other paths, e.g. a media library importing from a torrent client.
package hardlink

import (
	"fmt"
	"os"
)

// IsShared reports whether the file at path has more than one hard link
func IsShared(path string) (bool, error) {
	count, err := LinkCount(path)
	if err != nil {
		return false, err
	}
	return count > 1, nil
}

// SameData reports whether both paths are hard links to the same data
func SameData(path1, path2 string) (bool, error) {
	fi1, err := os.Lstat(path1)
	if err != nil {
		return false, fmt.Errorf("failed to stat file %s: %w", path1, err)
	}
	fi2, err := os.Lstat(path2)
	if err != nil {
		return false, fmt.Errorf("failed to stat file %s: %w", path2, err)
	}
	return os.SameFile(fi1, fi2), nil
}
