// Package storage resolves piece indices to on-disk file ranges and
// writes verified piece data to them.
package storage

import "io"

// Storage opens a named file of a given size, creating and truncating
// it to size if it does not already exist.
type Storage interface {
	Open(name string, size int64) (f File, exists bool, err error)
}

// File is a torrent-backing file, opened for random-access reads and
// writes at arbitrary offsets.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}
