package engine

import (
	"sync"

	"github.com/tchardonnens/vibe-torrent-client/internal/bitfield"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
)

// inventory records what each peer has announced before the piece
// scheduler exists to receive it directly. A magnet source has peers
// connected (and sending their one-time BITFIELD) well before the
// ut_metadata fetch resolves the piece count needed to decode it, so the
// raw bytes are kept until then instead of being dropped.
type inventory struct {
	mu       sync.Mutex
	bitfield map[string][]byte
	haveAll  map[string]bool
	haves    map[string]map[uint32]bool
}

func newInventory() *inventory {
	return &inventory{
		bitfield: make(map[string][]byte),
		haveAll:  make(map[string]bool),
		haves:    make(map[string]map[uint32]bool),
	}
}

// observe records a wire message relevant to piece availability. Anything
// else is ignored.
func (inv *inventory) observe(addr string, msg interface{}) {
	switch m := msg.(type) {
	case *peerwire.BitfieldMessage:
		inv.mu.Lock()
		inv.bitfield[addr] = append([]byte(nil), m.Data...)
		inv.mu.Unlock()
	case peerwire.HaveMessage:
		inv.mu.Lock()
		set, ok := inv.haves[addr]
		if !ok {
			set = make(map[uint32]bool)
			inv.haves[addr] = set
		}
		set[m.Index] = true
		inv.mu.Unlock()
	case peerwire.HaveAllMessage:
		inv.mu.Lock()
		inv.haveAll[addr] = true
		inv.mu.Unlock()
	}
}

func (inv *inventory) forget(addr string) {
	inv.mu.Lock()
	delete(inv.bitfield, addr)
	delete(inv.haveAll, addr)
	delete(inv.haves, addr)
	inv.mu.Unlock()
}

// snapshotHave decodes everything observed for addr so far against
// numPieces, once it is finally known.
func (inv *inventory) snapshotHave(addr string, numPieces uint32) []uint32 {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	set := make(map[uint32]bool)
	if inv.haveAll[addr] {
		for i := uint32(0); i < numPieces; i++ {
			set[i] = true
		}
	} else if raw, ok := inv.bitfield[addr]; ok && uint32(len(raw))*8 >= numPieces {
		bf := bitfield.NewFromBytes(append([]byte(nil), raw...), numPieces)
		for i := uint32(0); i < numPieces; i++ {
			if bf.Test(i) {
				set[i] = true
			}
		}
	}
	for i := range inv.haves[addr] {
		set[i] = true
	}

	out := make([]uint32, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	return out
}
