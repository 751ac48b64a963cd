//go:build !windows

package hardlink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	dir := t.TempDir()
	download := filepath.Join(dir, "ubuntu.iso")
	library := filepath.Join(dir, "library.iso")
	copied := filepath.Join(dir, "copy.iso")

	require.NoError(t, os.WriteFile(download, []byte("data"), 0o600))
	require.NoError(t, os.WriteFile(copied, []byte("data"), 0o600))

	count, err := LinkCount(download)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	shared, err := IsShared(download)
	require.NoError(t, err)
	assert.False(t, shared)

	require.NoError(t, os.Link(download, library))

	count, err = LinkCount(download)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	shared, err = IsShared(library)
	require.NoError(t, err)
	assert.True(t, shared)

	same, err := SameData(download, library)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = SameData(download, copied)
	require.NoError(t, err)
	assert.False(t, same)

	_, err = LinkCount(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = SameData(download, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
