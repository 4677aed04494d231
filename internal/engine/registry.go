package engine

import (
	"sync"

	"github.com/tchardonnens/vibe-torrent-client/internal/peer"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
)

// peerRegistry holds the connected peers, shared mutable state touched from
// more than one goroutine (the other such state is inventory, which keeps
// its own lock): every dial goroutine registers into it, the main
// loop looks peers up by address to act on scheduler outbox events, and
// the progress ticker reads its counts. Everything else (piece state,
// per-peer choke bookkeeping) is owned by the scheduler or by the Peer
// itself.
type peerRegistry struct {
	mu   sync.Mutex
	byID map[string]*peer.Peer
	seen int
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{byID: make(map[string]*peer.Peer)}
}

func (r *peerRegistry) add(p *peer.Peer) {
	r.mu.Lock()
	r.byID[p.String()] = p
	r.seen++
	r.mu.Unlock()
}

func (r *peerRegistry) remove(p *peer.Peer) {
	r.mu.Lock()
	delete(r.byID, p.String())
	r.mu.Unlock()
}

func (r *peerRegistry) get(id string) *peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *peerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *peerRegistry) totalSeen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

func (r *peerRegistry) snapshot() []*peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer.Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// broadcast queues msg for every currently connected peer, used to fan
// out a HAVE the moment a piece verifies.
func (r *peerRegistry) broadcast(msg peerwire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		p.SendMessage(msg)
	}
}

// closeAll closes every connection, used on shutdown so no peer goroutine
// outlives Run.
func (r *peerRegistry) closeAll() {
	r.mu.Lock()
	peers := make([]*peer.Peer, 0, len(r.byID))
	for _, p := range r.byID {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}
