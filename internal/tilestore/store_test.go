package tilestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

var addr = tiling.Coordinate{Z: 14, X: 4823, Y: 6158}

func TestResolvePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("out", "14", "4823", "6158.png"),
		ResolvePath("out", addr, domain.FormatPNG),
	)
	assert.Equal(t,
		filepath.Join("/srv/tiles", "3", "1", "2.jpeg"),
		ResolvePath("/srv/tiles", tiling.Coordinate{Z: 3, X: 1, Y: 2}, domain.FormatJPEG),
	)
}

func TestEnsureRoot(t *testing.T) {
	t.Run("creates nested root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "a", "b")
		require.NoError(t, EnsureRoot(root))
		require.NoError(t, EnsureRoot(root), "existing root is not an error")

		info, err := os.Stat(root)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("root occupied by a file", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "tiles")
		require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

		err := EnsureRoot(root)
		require.Error(t, err)

		var pathErr *domain.PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, root, pathErr.Path)
		assert.True(t, domain.IsFatal(err))
	})
}

func TestEnsureDirectories(t *testing.T) {
	t.Run("creates zoom and column levels idempotently", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, EnsureDirectories(root, addr))
		require.NoError(t, EnsureDirectories(root, addr))

		info, err := os.Stat(filepath.Join(root, "14", "4823"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("zoom level occupied by a file", func(t *testing.T) {
		root := t.TempDir()
		zPath := filepath.Join(root, "14")
		require.NoError(t, os.WriteFile(zPath, []byte("x"), 0o644))

		err := EnsureDirectories(root, addr)

		var pathErr *domain.PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, zPath, pathErr.Path)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("column level occupied by a file", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "14"), 0o755))
		xPath := filepath.Join(root, "14", "4823")
		require.NoError(t, os.WriteFile(xPath, nil, 0o644))

		err := EnsureDirectories(root, addr)

		var pathErr *domain.PathError
		require.ErrorAs(t, err, &pathErr)
		assert.Equal(t, xPath, pathErr.Path)
	})
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	path := ResolvePath(root, addr, domain.FormatPNG)

	assert.False(t, Exists(path))

	require.NoError(t, EnsureDirectories(root, addr))
	require.NoError(t, os.WriteFile(path, []byte("tile"), 0o644))
	assert.True(t, Exists(path))

	assert.False(t, Exists(filepath.Dir(path)), "a directory is not a tile")
}

func TestWriter(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		name := "direct"
		if atomic {
			name = "atomic"
		}

		t.Run(name+" commit", func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, EnsureDirectories(root, addr))
			path := ResolvePath(root, addr, domain.FormatPNG)

			w, err := Create(path, atomic)
			require.NoError(t, err)

			_, err = w.Write([]byte("png-bytes"))
			require.NoError(t, err)
			require.NoError(t, w.Commit())
			require.Error(t, w.Commit(), "second commit is rejected")

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "png-bytes", string(data))
			assert.NoFileExists(t, path+partSuffix)
		})

		t.Run(name+" abort", func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, EnsureDirectories(root, addr))
			path := ResolvePath(root, addr, domain.FormatPNG)

			w, err := Create(path, atomic)
			require.NoError(t, err)
			_, err = w.Write([]byte(strings.Repeat("x", 128)))
			require.NoError(t, err)

			w.Abort()
			w.Abort()

			assert.False(t, Exists(path))
			assert.NoFileExists(t, path+partSuffix)
		})
	}

	t.Run("atomic writer hides the tile until commit", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, EnsureDirectories(root, addr))
		path := ResolvePath(root, addr, domain.FormatPNG)

		w, err := Create(path, true)
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)

		assert.False(t, Exists(path))
		require.NoError(t, w.Commit())
		assert.True(t, Exists(path))
	})
}

func TestStat(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDirectories(root, addr))
	require.NoError(t, os.WriteFile(ResolvePath(root, addr, domain.FormatJPG), []byte("12345"), 0o644))

	info, err := Stat(root, addr, domain.FormatJPG)
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size())

	_, err = Stat(root, addr, domain.FormatPNG)
	assert.True(t, os.IsNotExist(err))
}
