package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/internal/bencode"
)

func pieceHashes(n int) []byte {
	out := make([]byte, 0, n*sha1.Size)
	for i := 0; i < n; i++ {
		h := sha1.Sum([]byte{byte(i)})
		out = append(out, h[:]...)
	}
	return out
}

func TestNewInfoSingleFile(t *testing.T) {
	pieces := pieceHashes(2)
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "movie.mkv",
		"length":       int64(40000),
		"piece length": int64(20000),
		"pieces":       string(pieces),
	})
	require.NoError(t, err)

	info, err := NewInfo(raw)
	require.NoError(t, err)
	assert.False(t, info.MultiFile())
	assert.Equal(t, int64(40000), info.TotalLength)
	assert.EqualValues(t, 2, info.NumPieces)
	assert.Equal(t, pieces[:20], info.PieceHash(0))
	assert.Equal(t, pieces[20:], info.PieceHash(1))
	assert.EqualValues(t, 20000, info.PieceLen(0))
	assert.EqualValues(t, 20000, info.PieceLen(1))

	wantHash := sha1.Sum(raw)
	assert.Equal(t, wantHash, info.Hash)
}

func TestNewInfoMultiFile(t *testing.T) {
	pieces := pieceHashes(3)
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "album",
		"piece length": int64(10),
		"pieces":       string(pieces),
		"files": []interface{}{
			map[string]interface{}{"length": int64(15), "path": []interface{}{"01.flac"}},
			map[string]interface{}{"length": int64(15), "path": []interface{}{"02.flac"}},
		},
	})
	require.NoError(t, err)

	info, err := NewInfo(raw)
	require.NoError(t, err)
	assert.True(t, info.MultiFile())
	assert.Equal(t, int64(30), info.TotalLength)
	entries := info.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"01.flac"}, entries[0].Path)
}

func TestNewInfoRejectsBadPieceLength(t *testing.T) {
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "x",
		"length":       int64(1),
		"piece length": int64(1),
		"pieces":       string(pieceHashes(5)), // way more pieces than data requires
	})
	require.NoError(t, err)
	_, err = NewInfo(raw)
	assert.Error(t, err)
}

func TestNewInfoRejectsDotDotPath(t *testing.T) {
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "x",
		"piece length": int64(10),
		"pieces":       string(pieceHashes(1)),
		"files": []interface{}{
			map[string]interface{}{"length": int64(5), "path": []interface{}{"..", "escape"}},
		},
	})
	require.NoError(t, err)
	_, err = NewInfo(raw)
	assert.Error(t, err)
}

func TestNewInfoRejectsMisalignedPieces(t *testing.T) {
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "x",
		"length":       int64(1),
		"piece length": int64(1),
		"pieces":       "short",
	})
	require.NoError(t, err)
	_, err = NewInfo(raw)
	assert.Error(t, err)
}

func TestPrivateFlagIntEncoding(t *testing.T) {
	raw, err := bencode.Marshal(map[string]interface{}{
		"name":         "x",
		"length":       int64(10),
		"piece length": int64(10),
		"pieces":       string(pieceHashes(1)),
		"private":      int64(1),
	})
	require.NoError(t, err)
	info, err := NewInfo(raw)
	require.NoError(t, err)
	assert.True(t, info.IsPrivate())
}
