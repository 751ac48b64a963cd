//go:build windows

package hardlink

import (
	"errors"
	"fmt"
)

// LinkCount returns the number of hard links to the file at path
func LinkCount(path string) (uint64, error) {
	return 0, fmt.Errorf("hardlink detection: %w", errors.ErrUnsupported)
}
