package storage

import (
	"path/filepath"

	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

// Layout maps piece indices to the file sections they occupy, opening
// every file of the torrent up front so later writes never touch the
// filesystem's namespace operations, only ReadAt/WriteAt.
type Layout struct {
	files  []File
	pieces []sections
}

// Open opens every file described by info under sto (creating and
// sparsely truncating any that don't exist) and builds the per-piece
// section map, walking files and pieces together exactly as rain's
// piece.NewPieces does.
func Open(info *metainfo.Info, sto Storage) (*Layout, error) {
	entries := info.Entries()
	files := make([]File, len(entries))
	for i, e := range entries {
		name := filepath.Join(e.Path...)
		if info.MultiFile() {
			// BEP 3: a multi-file torrent's files live under a directory
			// named after the torrent itself, not directly in the output dir.
			name = filepath.Join(info.Name, name)
		}
		f, _, err := sto.Open(name, e.Length)
		if err != nil {
			for _, opened := range files[:i] {
				if opened != nil {
					opened.Close()
				}
			}
			return nil, err
		}
		files[i] = f
	}

	l := &Layout{files: files, pieces: make([]sections, info.NumPieces)}

	var (
		fileIndex  int
		fileLength = entries[0].Length
		fileOffset int64
	)
	nextFile := func() {
		fileIndex++
		fileLength = entries[fileIndex].Length
		fileOffset = 0
	}
	fileLeft := func() int64 { return fileLength - fileOffset }

	var total int64
	for i := uint32(0); i < info.NumPieces; i++ {
		pieceLeft := int64(info.PieceLen(i))
		var secs sections
		for pieceLeft > 0 {
			n := pieceLeft
			if left := fileLeft(); left < n {
				n = left
			}
			secs = append(secs, section{file: files[fileIndex], offset: fileOffset, length: n})

			pieceLeft -= n
			fileOffset += n
			total += n

			if total == info.TotalLength {
				break
			}
			if fileLeft() == 0 {
				nextFile()
			}
		}
		l.pieces[i] = secs
	}
	return l, nil
}

// Write writes a fully verified piece's bytes to its on-disk sections.
func (l *Layout) Write(index uint32, data []byte) error {
	_, err := l.pieces[index].write(data)
	return err
}

// Close closes every underlying file.
func (l *Layout) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
