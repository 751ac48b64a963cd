//go:build !windows

package hardlink

import (
	"fmt"
	"os"
	"syscall"
)

// LinkCount returns the number of hard links to the file at path
func LinkCount(path string) (uint64, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("cannot read link count of %s", path)
	}
	return uint64(stat.Nlink), nil
}
