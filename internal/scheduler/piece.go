package scheduler

import (
	"crypto/sha1"
	"errors"

	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

// ErrHashMismatch is returned by piece.verify when the assembled piece
// data does not hash to the value recorded in the torrent's info dict.
var ErrHashMismatch = errors.New("scheduler: piece hash mismatch")

// Block identifies a byte range within a piece.
type Block struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// piece tracks one piece's block layout and in-flight download state.
// It mirrors rain's piece.Piece/piece.Block split, but keeps the
// per-block pending/done bookkeeping rain spreads across PieceDownloader
// attached directly to the piece, since this scheduler owns exactly one
// downloader per piece at a time (no endgame duplicate requests).
type piece struct {
	index  uint32
	length uint32
	hash   []byte
	blocks []Block

	buf      bufferpool.Buffer
	haveBuf  bool
	pending  map[uint32]struct{} // begin -> requested, awaiting data
	done     map[uint32]struct{} // begin -> written into buf
	assignee string              // peer currently responsible, "" if unassigned
}

func newPiece(index uint32, info *metainfo.Info, blockSize uint32) *piece {
	length := info.PieceLen(index)
	p := &piece{
		index:   index,
		length:  length,
		hash:    info.PieceHash(index),
		blocks:  calculateBlocks(index, length, blockSize),
		pending: make(map[uint32]struct{}),
		done:    make(map[uint32]struct{}),
	}
	return p
}

func calculateBlocks(pieceIndex, length, blockSize uint32) []Block {
	n := length / blockSize
	mod := length % blockSize
	total := n
	if mod != 0 {
		total++
	}
	blocks := make([]Block, total)
	var begin uint32
	for i := uint32(0); i < n; i++ {
		blocks[i] = Block{Index: pieceIndex, Begin: begin, Length: blockSize}
		begin += blockSize
	}
	if mod != 0 {
		blocks[total-1] = Block{Index: pieceIndex, Begin: begin, Length: mod}
	}
	return blocks
}

func (p *piece) remainingBlocks() []Block {
	var out []Block
	for _, b := range p.blocks {
		if _, pending := p.pending[b.Begin]; pending {
			continue
		}
		if _, done := p.done[b.Begin]; done {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (p *piece) complete() bool { return len(p.done) == len(p.blocks) }

// putBlock copies data into the piece's buffer at begin, allocating the
// buffer from pool on first use.
func (p *piece) putBlock(pool *bufferpool.Pool, begin uint32, data []byte) {
	if !p.haveBuf {
		p.buf = pool.Get(int(p.length))
		p.haveBuf = true
	}
	copy(p.buf.Data[begin:], data)
	delete(p.pending, begin)
	p.done[begin] = struct{}{}
}

// verify hashes the assembled buffer against the expected SHA-1 digest.
func (p *piece) verify() error {
	sum := sha1.Sum(p.buf.Data)
	if !bytesEqual(sum[:], p.hash) {
		return ErrHashMismatch
	}
	return nil
}

func (p *piece) resetDownload() {
	p.pending = make(map[uint32]struct{})
	p.done = make(map[uint32]struct{})
	p.assignee = ""
	if p.haveBuf {
		p.buf.Release()
		p.haveBuf = false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
