package scheduler

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

const testBlockSize = 4

// buildInfo returns an Info with one piece per entry of pieceData, a piece
// length equal to the first entry's length, and piece hashes matching
// pieceData, for use as a scheduler fixture without going through the
// bencode decoder.
func buildInfo(t *testing.T, pieceData [][]byte) *metainfo.Info {
	t.Helper()
	pieces := make([]byte, 0, len(pieceData)*sha1.Size)
	var total int64
	for _, d := range pieceData {
		sum := sha1.Sum(d)
		pieces = append(pieces, sum[:]...)
		total += int64(len(d))
	}
	return &metainfo.Info{
		PieceLength: uint32(len(pieceData[0])),
		Pieces:      pieces,
		NumPieces:   uint32(len(pieceData)),
		TotalLength: total,
		Length:      total,
	}
}

func newTestScheduler(t *testing.T, pieceData [][]byte) *Scheduler {
	t.Helper()
	info := buildInfo(t, pieceData)
	pool := bufferpool.New(int(info.PieceLength))
	return New(info, testBlockSize, 64, 8, 100*time.Millisecond, pool)
}

func TestCalculateBlocksSplitsLastBlockShort(t *testing.T) {
	blocks := calculateBlocks(0, 10, 4)
	require.Len(t, blocks, 3)
	assert.Equal(t, Block{Index: 0, Begin: 0, Length: 4}, blocks[0])
	assert.Equal(t, Block{Index: 0, Begin: 4, Length: 4}, blocks[1])
	assert.Equal(t, Block{Index: 0, Begin: 8, Length: 2}, blocks[2])
}

func TestRarestFirstPicksLeastAvailablePiece(t *testing.T) {
	pieceData := [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{8, 7, 6, 5, 4, 3, 2, 1},
	}
	s := newTestScheduler(t, pieceData)
	defer leaktest.Check(t)()
	go s.Run()
	defer s.Stop()

	// Both peers announce piece 1, but only peer A has piece 0, making
	// piece 0 the rarer of the two once availability is tallied.
	s.Inbox <- BitfieldReceived{PeerID: "A", Have: []uint32{0, 1}}
	s.Inbox <- BitfieldReceived{PeerID: "B", Have: []uint32{1}}
	s.Inbox <- PeerUnchoked{PeerID: "A"}
	s.Inbox <- PeerUnchoked{PeerID: "B"}

	select {
	case ev := <-s.Outbox:
		rb, ok := ev.(RequestBlock)
		require.True(t, ok, "expected RequestBlock, got %T", ev)
		assert.EqualValues(t, 0, rb.Block.Index, "rarer piece 0 should be requested first")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func TestFullPieceLifecycleEmitsPieceVerified(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s := newTestScheduler(t, [][]byte{data})
	defer leaktest.Check(t)()
	go s.Run()
	defer s.Stop()

	s.Inbox <- BitfieldReceived{PeerID: "A", Have: []uint32{0}}
	s.Inbox <- PeerUnchoked{PeerID: "A"}

	var requests []RequestBlock
	for len(requests) < 2 {
		select {
		case ev := <-s.Outbox:
			if rb, ok := ev.(RequestBlock); ok {
				requests = append(requests, rb)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out collecting requests")
		}
	}

	for _, rb := range requests {
		s.Inbox <- BlockReceived{
			PeerID: rb.PeerID,
			Block:  rb.Block,
			Data:   data[rb.Block.Begin : rb.Block.Begin+rb.Block.Length],
		}
	}

	select {
	case ev := <-s.Outbox:
		pv, ok := ev.(PieceVerified)
		require.True(t, ok, "expected PieceVerified, got %T", ev)
		assert.Equal(t, data, pv.Data)
		pv.Release()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PieceVerified")
	}

	select {
	case ev := <-s.Outbox:
		_, ok := ev.(Completed)
		assert.True(t, ok, "expected Completed, got %T", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Completed")
	}
}

func TestChokeReclaimsAssignedPiece(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s := newTestScheduler(t, [][]byte{data})
	defer leaktest.Check(t)()
	go s.Run()
	defer s.Stop()

	s.Inbox <- BitfieldReceived{PeerID: "A", Have: []uint32{0}}
	s.Inbox <- PeerUnchoked{PeerID: "A"}

	// The 8-byte piece splits into two 4-byte blocks, both requested at once.
	for i := 0; i < 2; i++ {
		select {
		case <-s.Outbox:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for block requests")
		}
	}

	s.Inbox <- PeerChoked{PeerID: "A"}

	select {
	case ev := <-s.Outbox:
		_, ok := ev.(CancelBlock)
		assert.True(t, ok, "expected CancelBlock after choke, got %T", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancel")
	}
}

func TestBlockTimeoutReschedulesUnansweredBlock(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	s := newTestScheduler(t, [][]byte{data})
	s.pipelineDepth = 1
	defer leaktest.Check(t)()
	go s.Run()
	defer s.Stop()

	s.Inbox <- BitfieldReceived{PeerID: "slow", Have: []uint32{0}}
	s.Inbox <- PeerUnchoked{PeerID: "slow"}

	select {
	case ev := <-s.Outbox:
		_, ok := ev.(RequestBlock)
		require.True(t, ok, "expected RequestBlock, got %T", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first request")
	}

	// Never answer it: the 100ms timeout configured by newTestScheduler
	// must cancel the stale request and put the block back up for grabs.
	var sawCancel, sawRetry bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-s.Outbox:
			switch ev.(type) {
			case CancelBlock:
				sawCancel = true
			case RequestBlock:
				sawRetry = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reschedule after block timeout")
		}
	}
	assert.True(t, sawCancel, "expected a CancelBlock for the unanswered request")
	assert.True(t, sawRetry, "expected the block to be re-requested")
}
