// Package filestorage implements storage.Storage backed by files on disk.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/tchardonnens/vibe-torrent-client/internal/storage"
)

// FileStorage opens torrent files rooted under a single destination
// directory, creating them (and any containing directories) as needed.
type FileStorage struct {
	dest string
}

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

var _ storage.Storage = (*FileStorage)(nil)

// Dest returns the absolute destination directory.
func (s *FileStorage) Dest() string { return s.dest }

// Open opens name under the destination directory, creating and sparsely
// truncating it to size if it doesn't exist, or truncating an existing
// file whose size doesn't match (a resumed download is out of scope, so
// a size mismatch means the file is stale, not partially downloaded).
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Join(s.dest, filepath.Clean(name))

	if err = os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return
	}

	const mode = 0o640
	var of *os.File
	defer func() {
		if err != nil && of != nil {
			_ = of.Close()
		}
	}()

	of, err = os.OpenFile(name, os.O_RDWR, mode) // nolint: gosec
	if os.IsNotExist(err) {
		of, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
		if err != nil {
			return
		}
		_ = disableReadAhead(of)
		err = of.Truncate(size)
		f = of
		return
	}
	if err != nil {
		return
	}
	exists = true
	_ = disableReadAhead(of)
	var fi os.FileInfo
	fi, err = of.Stat()
	if err != nil {
		return
	}
	if fi.Size() != size {
		err = of.Truncate(size)
	}
	f = of
	return
}
