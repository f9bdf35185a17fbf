// Package tilestore maps tile addresses onto the {root}/{z}/{x}/{y}.{format}
// directory layout and decides whether a tile is already present.
//
// Presence is the only completeness signal. A truncated file left by an
// interrupted run is indistinguishable from a complete tile unless writes go
// through Create with atomic set.
package tilestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	partSuffix = ".part"
)

// ResolvePath returns the location of a tile under root
func ResolvePath(root string, c tiling.Coordinate, format domain.Format) string {
	return filepath.Join(root, strconv.Itoa(c.Z), strconv.Itoa(c.X), strconv.Itoa(c.Y)+"."+string(format))
}

// EnsureRoot creates the output root and any missing parents
func EnsureRoot(root string) error {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return domain.NewPathError("mkdir", root, err)
	}
	return nil
}

// EnsureDirectories creates the {z} and {z}/{x} levels for c. Directories that
// already exist are fine; anything else, including a file sitting where a
// directory belongs, is a *domain.PathError.
func EnsureDirectories(root string, c tiling.Coordinate) error {
	zDir := filepath.Join(root, strconv.Itoa(c.Z))
	if err := mkdir(zDir); err != nil {
		return err
	}
	return mkdir(filepath.Join(zDir, strconv.Itoa(c.X)))
}

func mkdir(dir string) error {
	err := os.Mkdir(dir, dirPerm)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		info, statErr := os.Stat(dir)
		if statErr == nil && info.IsDir() {
			return nil
		}
		if statErr == nil {
			err = errNotDir
		}
	}
	return domain.NewPathError("mkdir", dir, err)
}

var errNotDir = errors.New("not a directory")

// Exists reports whether a tile file is present at path
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Stat returns file information for a stored tile
func Stat(root string, c tiling.Coordinate, format domain.Format) (fs.FileInfo, error) {
	return os.Stat(ResolvePath(root, c, format))
}
