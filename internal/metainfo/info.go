package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tchardonnens/vibe-torrent-client/internal/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data: piece length/count does not cover total length")

// FileEntry is one file of a multi-file torrent, or the implicit single
// entry of a single-file one.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the decoded "info" dictionary of a metainfo file, plus the
// fields derived from it at parse time.
type Info struct {
	PieceLength uint32             `bencode:"piece length"`
	Pieces      []byte             `bencode:"pieces"`
	Private     bencode.RawMessage `bencode:"private"`
	Name        string             `bencode:"name"`
	Length      int64              `bencode:"length"` // single-file mode
	Files       []FileEntry        `bencode:"files"`  // multi-file mode

	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`

	private bool
}

// NewInfo decodes the raw bytes of an info dict — as captured verbatim by
// the top-level metainfo decode — and computes the derived fields. The
// hash is taken over b exactly as received, never a re-encoding, so a
// leniently-tolerated but non-canonical info dict still hashes the way
// every other client sees it.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, fmt.Errorf("decoding info dict: %w", err)
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if len(i.Private) > 0 {
		var intVal int64
		var stringVal string
		if err := bencode.DecodeBytes(i.Private, &intVal); err == nil {
			i.private = intVal == 1
		} else if err := bencode.DecodeBytes(i.Private, &stringVal); err == nil {
			i.private = stringVal == "1"
		}
	}
	for _, f := range i.Files {
		for _, p := range f.Path {
			if strings.TrimSpace(p) == ".." {
				return nil, fmt.Errorf("invalid file path: %q", filepath.Join(f.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	totalPieceSpace := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceSpace - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	h := sha1.New() // nolint: gosec
	_, _ = h.Write(b)
	copy(i.Hash[:], h.Sum(nil))
	return &i, nil
}

// MultiFile reports whether the torrent describes more than one file.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// PieceHash returns the expected SHA-1 digest of piece index.
func (i *Info) PieceHash(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceLen returns the length in bytes of piece index, accounting for the
// final, possibly shorter, piece.
func (i *Info) PieceLen(index uint32) uint32 {
	if index < i.NumPieces-1 {
		return i.PieceLength
	}
	last := i.TotalLength - int64(i.PieceLength)*int64(i.NumPieces-1)
	return uint32(last)
}

// Entries returns the files of the torrent as a flat list, synthesizing
// the single entry of a single-file torrent from Name/Length.
func (i *Info) Entries() []FileEntry {
	if i.MultiFile() {
		return i.Files
	}
	return []FileEntry{{Length: i.Length, Path: []string{i.Name}}}
}

// IsPrivate reports whether the torrent's private flag (BEP 27) is set.
func (i *Info) IsPrivate() bool {
	if i == nil {
		return false
	}
	return i.private
}
