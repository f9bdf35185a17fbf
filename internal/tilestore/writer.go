package tilestore

import (
	"errors"
	"fmt"
	"os"
)

// Writer streams one tile to disk. Exactly one of Commit or Abort must be
// called; both release the file handle.
type Writer struct {
	file   *os.File
	path   string
	atomic bool
	done   bool
}

// Create opens path for writing. With atomic set the bytes go to a sibling
// .part file that Commit renames into place, so an interrupted write never
// leaves a file that looks complete.
func Create(path string, atomic bool) (*Writer, error) {
	name := path
	if atomic {
		name = path + partSuffix
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile file: %w", err)
	}

	return &Writer{file: f, path: path, atomic: atomic}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit closes the file and, for atomic writers, moves it into place
func (w *Writer) Commit() error {
	if w.done {
		return errors.New("tile writer already finished")
	}
	w.done = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("failed to close tile file: %w", err)
	}

	if w.atomic {
		if err := os.Rename(w.file.Name(), w.path); err != nil {
			os.Remove(w.file.Name())
			return fmt.Errorf("failed to rename tile file: %w", err)
		}
	}

	return nil
}

// Abort closes and removes the partially written file so a later run fetches
// the tile again. Calling Abort after Commit is a no-op.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true

	w.file.Close()
	os.Remove(w.file.Name())
}
