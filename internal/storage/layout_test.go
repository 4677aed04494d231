package storage

import (
	"crypto/sha1"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

type memFile struct{ data []byte }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	n := copy(f.data[off:], p)
	return n, nil
}

func (f *memFile) Close() error { return nil }

type memStorage struct {
	opened map[string]*memFile
}

func newMemStorage() *memStorage { return &memStorage{opened: make(map[string]*memFile)} }

func (s *memStorage) Open(name string, size int64) (File, bool, error) {
	f, exists := s.opened[name]
	if !exists {
		f = &memFile{data: make([]byte, size)}
		s.opened[name] = f
	}
	return f, exists, nil
}

func buildMultiFileInfo(t *testing.T, pieceLength uint32, fileLengths ...int64) *metainfo.Info {
	t.Helper()
	var total int64
	files := make([]metainfo.FileEntry, len(fileLengths))
	for i, l := range fileLengths {
		files[i] = metainfo.FileEntry{Length: l, Path: []string{"f" + string(rune('0'+i))}}
		total += l
	}
	n := int(total) / int(pieceLength)
	if int(total)%int(pieceLength) != 0 {
		n++
	}
	pieces := make([]byte, n*sha1.Size)
	return &metainfo.Info{
		Name:        "multi",
		PieceLength: pieceLength,
		Files:       files,
		Pieces:      pieces,
		NumPieces:   uint32(n),
		TotalLength: total,
	}
}

func TestLayoutWriteSpansMultipleFiles(t *testing.T) {
	// Two files of 6 and 4 bytes, piece length 4: piece 0 = file0[0:4],
	// piece 1 = file0[4:6]+file1[0:2], piece 2 = file1[2:4].
	info := buildMultiFileInfo(t, 4, 6, 4)
	sto := newMemStorage()
	l, err := Open(info, sto)
	require.NoError(t, err)

	require.NoError(t, l.Write(0, []byte{1, 2, 3, 4}))
	require.NoError(t, l.Write(1, []byte{5, 6, 7, 8}))
	require.NoError(t, l.Write(2, []byte{9, 10}))

	// Multi-file torrents live under a directory named after the torrent.
	f0 := sto.opened[filepath.Join("multi", "f0")]
	f1 := sto.opened[filepath.Join("multi", "f1")]
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f0.data)
	assert.Equal(t, []byte{7, 8, 9, 10}, f1.data)
}

func TestLayoutOpenReopensExistingFiles(t *testing.T) {
	info := buildMultiFileInfo(t, 4, 6, 4)
	sto := newMemStorage()
	_, err := Open(info, sto)
	require.NoError(t, err)
	assert.Len(t, sto.opened, 2)

	_, err = Open(info, sto)
	require.NoError(t, err)
	assert.Len(t, sto.opened, 2, "second Open must reuse the same two files, not create new ones")
}
