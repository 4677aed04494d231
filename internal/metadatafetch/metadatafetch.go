// Package metadatafetch retrieves the info dict of a magnet link from
// connected peers using the BEP 9 ut_metadata extension, verifying the
// assembled bytes against the expected info-hash before returning them.
package metadatafetch

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/internal/peer"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
)

const blockSize = 16 * 1024

// ErrHashMismatch is returned when the assembled metadata does not hash to
// the info-hash the magnet link advertised.
var ErrHashMismatch = errors.New("metadatafetch: assembled metadata does not match info-hash")

// ErrNoCapablePeers is returned when Fetch is given no peer that advertised
// ut_metadata support with a known size.
var ErrNoCapablePeers = errors.New("metadatafetch: no connected peer advertises ut_metadata with a known size")

type block struct {
	size uint32
	data []byte
}

// incoming is a single ut_metadata data piece received from some peer,
// tagged with its sender so a malicious or buggy responder can be dropped.
type incoming struct {
	peer  *peer.Peer
	index uint32
	data  []byte
}

// Fetch downloads the info dict identified by infoHash from peers, keeping
// at most queueLength block requests in flight in total. Requests go to the
// first capable peer that is not blacklisted; a peer is blacklisted after a
// wrong-sized reply or when pieceTimeout passes with its requests
// unanswered, and its blocks move to the next capable peer. A hash mismatch
// of the assembled dict returns ErrHashMismatch; no peer is blacklisted for it.
// events must be fed every peer.Message seen by the caller's peer fan-in
// loop; Fetch only consumes ExtensionMetadataMessage and peer-disconnect
// notifications relevant to metadata blocks it requested.
func Fetch(infoHash [20]byte, peers []*peer.Peer, events <-chan peer.Message, disconnected <-chan *peer.Peer, pieceTimeout time.Duration, queueLength int) ([]byte, error) {
	size, from := pickSize(peers)
	if from == nil {
		return nil, ErrNoCapablePeers
	}

	blocks := makeBlocks(size)
	requested := make(map[uint32]*peer.Peer)
	blacklisted := make(map[*peer.Peer]bool)
	nextIndex := uint32(0)

	requestMore := func() {
		for nextIndex < uint32(len(blocks)) && len(requested) < queueLength {
			p := nextCapablePeer(peers, blacklisted)
			if p == nil {
				return
			}
			sendMetadataRequest(p, nextIndex)
			requested[nextIndex] = p
			nextIndex++
		}
	}

	remaining := func() int { return len(blocks) - countDone(blocks) }

	requestMore()
	var timeoutC <-chan time.Time
	if len(requested) > 0 {
		timeoutC = time.After(pieceTimeout)
	}
	for remaining() > 0 {
		select {
		case msg, ok := <-events:
			if !ok {
				return nil, errors.New("metadatafetch: event channel closed before metadata finished")
			}
			em, ok := msg.Message.(peerwire.ExtensionMetadataMessage)
			if !ok || em.Type != peerwire.MetadataData {
				continue
			}
			in := incoming{peer: msg.Peer, index: em.Piece, data: em.Data}
			owner, ok := requested[in.index]
			if !ok || owner != in.peer {
				continue // unsolicited or stale response, ignore
			}
			if in.index >= uint32(len(blocks)) || uint32(len(in.data)) != blocks[in.index].size {
				blacklisted[in.peer] = true
				delete(requested, in.index)
				nextIndex = min(nextIndex, in.index)
				requestMore()
				continue
			}
			blocks[in.index].data = in.data
			delete(requested, in.index)
			requestMore()
			if len(requested) > 0 {
				timeoutC = time.After(pieceTimeout)
			} else {
				timeoutC = nil
			}
		case dead := <-disconnected:
			for idx, p := range requested {
				if p == dead {
					delete(requested, idx)
					nextIndex = min(nextIndex, idx)
				}
			}
			requestMore()
		case <-timeoutC:
			for idx, p := range requested {
				blacklisted[p] = true
				delete(requested, idx)
				nextIndex = min(nextIndex, idx)
			}
			requestMore()
			if len(requested) > 0 {
				timeoutC = time.After(pieceTimeout)
			} else {
				timeoutC = nil
			}
		}
	}

	assembled := assemble(blocks)
	if sha1.Sum(assembled) != infoHash {
		return nil, ErrHashMismatch
	}
	return assembled, nil
}

func pickSize(peers []*peer.Peer) (int, *peer.Peer) {
	for _, p := range peers {
		if p.ExtensionHandshake != nil && p.ExtensionHandshake.MetadataSize > 0 {
			return p.ExtensionHandshake.MetadataSize, p
		}
	}
	return 0, nil
}

func nextCapablePeer(peers []*peer.Peer, blacklisted map[*peer.Peer]bool) *peer.Peer {
	for _, p := range peers {
		if blacklisted[p] {
			continue
		}
		if p.ExtensionHandshake == nil {
			continue
		}
		if _, ok := p.ExtensionHandshake.M[peerwire.ExtensionKeyMetadata]; !ok {
			continue
		}
		return p
	}
	return nil
}

func sendMetadataRequest(p *peer.Peer, index uint32) {
	extID := p.ExtensionHandshake.M[peerwire.ExtensionKeyMetadata]
	p.SendMessage(peerwire.ExtensionMessage{
		ExtendedMessageID: extID,
		Payload: peerwire.ExtensionMetadataMessage{
			Type:  peerwire.MetadataRequest,
			Piece: index,
		},
	})
}

func makeBlocks(size int) []block {
	n := size / blockSize
	mod := size % blockSize
	if mod != 0 {
		n++
	}
	blocks := make([]block, n)
	for i := range blocks {
		blocks[i].size = blockSize
	}
	if mod != 0 && len(blocks) > 0 {
		blocks[len(blocks)-1].size = uint32(mod)
	}
	return blocks
}

func countDone(blocks []block) int {
	n := 0
	for _, b := range blocks {
		if b.data != nil {
			n++
		}
	}
	return n
}

func assemble(blocks []block) []byte {
	var buf bytes.Buffer
	for _, b := range blocks {
		buf.Write(b.data)
	}
	return buf.Bytes()
}
