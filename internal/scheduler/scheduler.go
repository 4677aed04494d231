// Package scheduler implements rarest-first piece selection and
// per-peer block pipelining for a single download. It mirrors the
// combination of rain's piece picker and piece downloader, but runs as
// a single-goroutine event loop over a typed inbox/outbox pair instead
// of rain's shared state guarded by a session-wide lock, so it never
// needs a pointer back to a peer or to the engine.
package scheduler

import (
	"sort"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

// peerState tracks what one connected peer has and owes us.
type peerState struct {
	id      string
	choked  bool
	having  map[uint32]bool
	active  []*piece // pieces currently assigned to this peer, in request order
	pending int       // blocks requested from this peer, not yet answered
}

// Scheduler assigns pieces to peers rarest-first and pipelines block
// requests up to Config.Scheduler.PipelineDepth per peer, across at
// most Config.Scheduler.MaxConcurrentPieces pieces per peer at a time.
type Scheduler struct {
	info      *metainfo.Info
	blockSize uint32
	pool      *bufferpool.Pool

	pipelineDepth int
	maxPerPeer    int
	blockTimeout  time.Duration

	pieces       []*piece
	order        []uint32 // piece indices sorted by ascending availability
	availability []int    // availability[index] = number of peers known to have it
	dirty        bool
	remaining    int // pieces not yet verified

	peers map[string]*peerState

	Inbox  chan interface{}
	Outbox chan interface{}

	log logging.Logger

	stopC chan struct{}
	doneC chan struct{}
}

// New builds a Scheduler for every piece described by info.
func New(info *metainfo.Info, blockSize uint32, pipelineDepth, maxConcurrentPieces int, blockTimeout time.Duration, pool *bufferpool.Pool) *Scheduler {
	n := int(info.NumPieces)
	s := &Scheduler{
		info:          info,
		blockSize:     blockSize,
		pool:          pool,
		pipelineDepth: pipelineDepth,
		maxPerPeer:    maxConcurrentPieces,
		blockTimeout:  blockTimeout,
		pieces:        make([]*piece, n),
		order:         make([]uint32, n),
		availability:  make([]int, n),
		remaining:     n,
		peers:         make(map[string]*peerState),
		Inbox:         make(chan interface{}, 256),
		Outbox:        make(chan interface{}, 256),
		log:           logging.New("scheduler"),
		stopC:         make(chan struct{}),
		doneC:         make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		s.pieces[i] = newPiece(uint32(i), info, blockSize)
		s.order[i] = uint32(i)
	}
	return s
}

// Stop halts the event loop. Run's goroutine exits once the current
// inbox item (if any) finishes processing.
func (s *Scheduler) Stop() { close(s.stopC) }

// Done reports when Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.doneC }

// Run drives the event loop until every piece is verified or Stop is called.
func (s *Scheduler) Run() {
	defer close(s.doneC)
	for {
		select {
		case ev := <-s.Inbox:
			s.handle(ev)
			if s.remaining == 0 {
				s.emit(Completed{})
				return
			}
		case <-s.stopC:
			return
		}
	}
}

func (s *Scheduler) emit(ev interface{}) {
	select {
	case s.Outbox <- ev:
	case <-s.stopC:
	}
}

func (s *Scheduler) handle(ev interface{}) {
	switch e := ev.(type) {
	case PeerRequestable:
		s.peer(e.PeerID)
		s.assign(e.PeerID)
	case PeerUnchoked:
		p := s.peer(e.PeerID)
		p.choked = false
		s.assign(e.PeerID)
	case PeerChoked:
		p := s.peer(e.PeerID)
		p.choked = true
		s.reclaim(p)
	case PeerDisconnected:
		if p, ok := s.peers[e.PeerID]; ok {
			s.reclaim(p)
			for idx := range p.having {
				s.availability[idx]--
			}
			delete(s.peers, e.PeerID)
		}
	case HaveReceived:
		p := s.peer(e.PeerID)
		s.markHaving(p, e.Index)
		s.assign(e.PeerID)
	case BitfieldReceived:
		p := s.peer(e.PeerID)
		for _, idx := range e.Have {
			s.markHaving(p, idx)
		}
		s.assign(e.PeerID)
	case BlockReceived:
		s.onBlock(e)
	case blockTimeout:
		s.onTimeout(e)
	}
}

// peer returns the bookkeeping for id, creating it choked — every peer
// connection starts in the choke-until-told-otherwise state the wire
// protocol assumes — on first mention.
func (s *Scheduler) peer(id string) *peerState {
	p, ok := s.peers[id]
	if !ok {
		p = &peerState{id: id, choked: true, having: make(map[uint32]bool)}
		s.peers[id] = p
	}
	return p
}

func (s *Scheduler) markHaving(p *peerState, index uint32) {
	if p.having[index] {
		return
	}
	p.having[index] = true
	s.availability[int(index)]++
	s.dirty = true
}

// reclaim drops everything assigned to p (on choke or disconnect),
// sending cancels for any outstanding requests and returning the
// pieces to the unassigned pool for another peer to pick up.
func (s *Scheduler) reclaim(p *peerState) {
	for _, pc := range p.active {
		for begin := range pc.pending {
			s.emit(CancelBlock{PeerID: p.id, Block: Block{Index: pc.index, Begin: begin, Length: blockLen(pc, begin)}})
		}
		pc.resetDownload()
	}
	p.active = nil
	p.pending = 0
}

func blockLen(pc *piece, begin uint32) uint32 {
	for _, b := range pc.blocks {
		if b.Begin == begin {
			return b.Length
		}
	}
	return 0
}

// resort re-sorts piece indices ascending by availability, rarest first.
// Pieces with zero availability (nobody we know of has them yet) sort
// to the end, not the front, since there is nothing to request from.
func (s *Scheduler) resort() {
	if !s.dirty {
		return
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		ai, aj := s.availability[s.order[i]], s.availability[s.order[j]]
		if ai == 0 {
			return false
		}
		if aj == 0 {
			return true
		}
		return ai < aj
	})
	s.dirty = false
}

// assign gives peer p as many new pieces and block requests as its
// pipeline budget allows.
func (s *Scheduler) assign(id string) {
	p := s.peers[id]
	if p == nil || p.choked {
		return
	}
	s.resort()

	for len(p.active) < s.maxPerPeer {
		pc := s.pickFor(p)
		if pc == nil {
			break
		}
		pc.assignee = id
		p.active = append(p.active, pc)
	}
	s.fillRequests(p)
}

// pickFor returns the rarest piece p has, is not complete, and is not
// already assigned to some other peer. No endgame duplicate requests.
func (s *Scheduler) pickFor(p *peerState) *piece {
	for _, idx := range s.order {
		pc := s.pieces[idx]
		if pc.complete() || pc.assignee != "" {
			continue
		}
		if !p.having[idx] {
			continue
		}
		return pc
	}
	return nil
}

func (s *Scheduler) fillRequests(p *peerState) {
	for p.pending < s.pipelineDepth {
		b, pc := s.nextBlock(p)
		if pc == nil {
			return
		}
		pc.pending[b.Begin] = struct{}{}
		p.pending++
		s.emit(RequestBlock{PeerID: p.id, Block: b})
		s.startTimer(p.id, b)
	}
}

func (s *Scheduler) nextBlock(p *peerState) (Block, *piece) {
	for _, pc := range p.active {
		rem := pc.remainingBlocks()
		if len(rem) > 0 {
			return rem[0], pc
		}
	}
	return Block{}, nil
}

func (s *Scheduler) startTimer(peerID string, b Block) {
	time.AfterFunc(s.blockTimeout, func() {
		select {
		case s.Inbox <- blockTimeout{PeerID: peerID, Block: b}:
		case <-s.stopC:
		}
	})
}

func (s *Scheduler) onBlock(e BlockReceived) {
	p := s.peers[e.PeerID]
	if p == nil {
		return
	}
	pc := s.pieces[e.Block.Index]
	if pc.assignee != e.PeerID {
		return // stale answer for a piece reassigned elsewhere
	}
	if _, wasPending := pc.pending[e.Block.Begin]; !wasPending {
		return // unsolicited or already-satisfied block
	}
	pc.putBlock(s.pool, e.Block.Begin, e.Data)
	p.pending--

	if pc.complete() {
		s.finishPiece(p, pc)
		s.assign(e.PeerID)
		return
	}
	s.fillRequests(p)
}

func (s *Scheduler) finishPiece(p *peerState, pc *piece) {
	removeActive(p, pc)
	if err := pc.verify(); err != nil {
		s.log.Warningln("piece", pc.index, "failed hash check, requeuing:", err)
		contributor := pc.assignee
		pc.resetDownload()
		s.emit(PieceFailed{Index: pc.index, Err: err, Peer: contributor})
		return
	}
	data := pc.buf.Data
	release := pc.buf.Release
	s.remaining--
	s.emit(PieceVerified{Index: pc.index, Data: data, Release: release})
}

func removeActive(p *peerState, pc *piece) {
	for i, a := range p.active {
		if a == pc {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) onTimeout(e blockTimeout) {
	p := s.peers[e.PeerID]
	if p == nil {
		return
	}
	pc := s.pieces[e.Block.Index]
	if pc.assignee != e.PeerID {
		return
	}
	if _, stillPending := pc.pending[e.Block.Begin]; !stillPending {
		return // answered before the timer fired
	}
	// Like a choke: cancel every outstanding block of this piece and return
	// the piece to the unassigned pool, then rerun assignment for this same
	// peer. Nothing excludes the slow peer, so it can be handed the same
	// piece again.
	for begin := range pc.pending {
		length := blockLen(pc, begin)
		s.emit(CancelBlock{PeerID: e.PeerID, Block: Block{Index: pc.index, Begin: begin, Length: length}})
		p.pending--
	}
	pc.pending = make(map[uint32]struct{})
	removeActive(p, pc)
	pc.assignee = ""
	s.assign(e.PeerID)
}
