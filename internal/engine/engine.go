// Package engine wires the bencode, metainfo, tracker, peer, scheduler,
// and storage packages into a single one-shot download: parse source,
// resolve metadata if needed, connect peers, drive the piece scheduler
// until every piece verifies, and report progress along the way. It
// collapses what rain spreads across a long-running Client/Session/RPC
// daemon into one Run call, since nothing here seeds afterward or takes
// further commands once a download finishes.
package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/tchardonnens/vibe-torrent-client/internal/bitfield"
	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/config"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/metadatafetch"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/internal/peer"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/internal/scheduler"
	"github.com/tchardonnens/vibe-torrent-client/internal/storage"
	"github.com/tchardonnens/vibe-torrent-client/internal/storage/filestorage"
	"github.com/tchardonnens/vibe-torrent-client/internal/tracker"
	"github.com/tchardonnens/vibe-torrent-client/internal/tracker/httptracker"
	"github.com/tchardonnens/vibe-torrent-client/internal/tracker/udptracker"
)

const clientVersion = "vibe-torrent-client"

// maxDemerits is how many pieces a peer may contribute to that fail
// hash verification before it is disconnected.
const maxDemerits = 3

// Outcome is the terminal state a download finished in.
type Outcome int

const (
	Completed Outcome = iota
	Failed
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Result is what Run returns once a download stops, one way or another.
type Result struct {
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Run drives one download of src to completion or failure. progressC, if
// non-nil, receives a Progress tick at least once a second; a full
// channel has its stale tick dropped in favor of the new one rather than
// blocking the download. Run returns once the terminal outcome is known;
// ctx cancellation is reported as Interrupted, not as an error return.
func Run(ctx context.Context, src *Source, outDir string, cfg config.Config, progressC chan Progress) (*Result, error) {
	start := time.Now()
	log := logging.New("engine")

	selfID, err := generatePeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("engine: generating peer id: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	addrs, err := discoverPeers(runCtx, src, selfID, cfg, log)
	if err != nil {
		return &Result{Outcome: Failed, Err: err, Elapsed: time.Since(start)}, nil
	}
	if len(addrs) > cfg.Peer.MaxPeers {
		addrs = addrs[:cfg.Peer.MaxPeers]
	}

	rawMsgs := make(chan peer.Message, 256)
	rawGone := make(chan *peer.Peer, 64)
	registry := newPeerRegistry()
	defer registry.closeAll()
	inv := newInventory()

	msgs := make(chan peer.Message, 256)
	gone := make(chan *peer.Peer, 64)
	go tapMessages(runCtx, rawMsgs, msgs, inv)
	go tapDisconnects(runCtx, rawGone, gone, inv)

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr *net.TCPAddr) {
			defer wg.Done()
			connectPeer(runCtx, addr, src, selfID, cfg, registry, rawMsgs, rawGone, log)
		}(addr)
	}
	wg.Wait()

	if registry.count() == 0 {
		return &Result{Outcome: Failed, Err: errors.New("engine: no peer completed the handshake"), Elapsed: time.Since(start)}, nil
	}

	info := src.Info
	if info == nil {
		waitForMetadataCapablePeer(runCtx, registry, cfg.Peer.HandshakeTimeout)
		fetched, err := metadatafetch.Fetch(src.InfoHash, registry.snapshot(), msgs, gone, cfg.Scheduler.BlockTimeout, cfg.Metadata.MaxQueuedPieces)
		if err != nil {
			return &Result{Outcome: Failed, Err: fmt.Errorf("engine: fetching metadata: %w", err), Elapsed: time.Since(start)}, nil
		}
		parsed, err := metainfo.NewInfo(fetched)
		if err != nil {
			return &Result{Outcome: Failed, Err: fmt.Errorf("engine: decoding fetched metadata: %w", err), Elapsed: time.Since(start)}, nil
		}
		if parsed.Hash != src.InfoHash {
			return &Result{Outcome: Failed, Err: errors.New("engine: fetched metadata does not match the magnet info-hash"), Elapsed: time.Since(start)}, nil
		}
		info = parsed
	}

	sto, err := filestorage.New(outDir)
	if err != nil {
		return &Result{Outcome: Failed, Err: fmt.Errorf("engine: opening output directory: %w", err), Elapsed: time.Since(start)}, nil
	}
	layout, err := storage.Open(info, sto)
	if err != nil {
		return &Result{Outcome: Failed, Err: fmt.Errorf("engine: preallocating files: %w", err), Elapsed: time.Since(start)}, nil
	}
	defer layout.Close()

	writer := storage.NewWriter(layout, 4)
	defer writer.Stop()

	pool := bufferpool.New(int(info.PieceLength))
	sched := scheduler.New(info, cfg.Scheduler.BlockSize, cfg.Scheduler.PipelineDepth, cfg.Scheduler.MaxConcurrentPieces, cfg.Scheduler.BlockTimeout, pool)
	go sched.Run()
	defer sched.Stop()

	seedScheduler(sched, registry, inv, info)

	return runLoop(runCtx, info, registry, msgs, gone, sched, writer, progressC, start, log)
}

// seedScheduler hands the scheduler everything already known about
// currently connected peers before the main loop starts relaying live
// wire events to it.
func seedScheduler(sched *scheduler.Scheduler, registry *peerRegistry, inv *inventory, info *metainfo.Info) {
	for _, p := range registry.snapshot() {
		id := p.String()
		sched.Inbox <- scheduler.PeerRequestable{PeerID: id}
		if have := inv.snapshotHave(id, info.NumPieces); len(have) > 0 {
			sched.Inbox <- scheduler.BitfieldReceived{PeerID: id, Have: have}
		}
		if !p.PeerChoking {
			sched.Inbox <- scheduler.PeerUnchoked{PeerID: id}
		}
	}
}

// runLoop is the engine's single event loop: every peer message, peer
// disconnect, scheduler outbox event, storage write result, progress
// tick, and cancellation funnels through this one select so nothing in
// the engine touches shared state from more than one goroutine.
func runLoop(ctx context.Context, info *metainfo.Info, registry *peerRegistry, msgs <-chan peer.Message, gone <-chan *peer.Peer, sched *scheduler.Scheduler, writer *storage.Writer, progressC chan Progress, start time.Time, log logging.Logger) (*Result, error) {
	rate := metrics.NewMeter()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var piecesDone int
	var bytesDone int64
	var pendingWrites int
	demerits := make(map[string]int)

	for {
		select {
		case m := <-msgs:
			handlePeerMessage(m, info, sched)

		case p := <-gone:
			registry.remove(p)
			delete(demerits, p.String())
			sched.Inbox <- scheduler.PeerDisconnected{PeerID: p.String()}
			if registry.count() == 0 {
				return &Result{Outcome: Failed, Err: errors.New("engine: lost every peer before the download finished"), Elapsed: time.Since(start)}, nil
			}

		case ev := <-sched.Outbox:
			switch e := ev.(type) {
			case scheduler.RequestBlock:
				if p := registry.get(e.PeerID); p != nil {
					p.Request(e.Block.Index, e.Block.Begin, e.Block.Length)
				}
			case scheduler.CancelBlock:
				if p := registry.get(e.PeerID); p != nil {
					p.Cancel(e.Block.Index, e.Block.Begin, e.Block.Length)
				}
			case scheduler.PieceVerified:
				piecesDone++
				bytesDone += int64(len(e.Data))
				rate.Mark(int64(len(e.Data)))
				pendingWrites++
				writer.Enqueue(storage.WriteRequest{Index: e.Index, Data: e.Data, Release: e.Release})
				registry.broadcast(peerwire.HaveMessage{Index: e.Index})
			case scheduler.PieceFailed:
				log.Warningln("piece", e.Index, "failed hash verification:", e.Err)
				if e.Peer != "" {
					demerits[e.Peer]++
					if demerits[e.Peer] >= maxDemerits {
						if p := registry.get(e.Peer); p != nil {
							log.Warningln("disconnecting", e.Peer, "after", demerits[e.Peer], "bad pieces")
							registry.remove(p)
							delete(demerits, e.Peer)
							sched.Inbox <- scheduler.PeerDisconnected{PeerID: e.Peer}
							go p.Close()
							if registry.count() == 0 {
								return &Result{Outcome: Failed, Err: errors.New("engine: lost every peer before the download finished"), Elapsed: time.Since(start)}, nil
							}
						}
					}
				}
			case scheduler.Completed:
				if err := drainWrites(writer, pendingWrites); err != nil {
					return &Result{Outcome: Failed, Err: err, Elapsed: time.Since(start)}, nil
				}
				sendProgress(progressC, snapshotProgress(info, piecesDone, bytesDone, registry, rate, start))
				return &Result{Outcome: Completed, Elapsed: time.Since(start)}, nil
			}

		case res := <-writer.Results:
			pendingWrites--
			if res.Err != nil {
				return &Result{Outcome: Failed, Err: fmt.Errorf("engine: writing piece %d: %w", res.Index, res.Err), Elapsed: time.Since(start)}, nil
			}

		case <-ticker.C:
			sendProgress(progressC, snapshotProgress(info, piecesDone, bytesDone, registry, rate, start))

		case <-ctx.Done():
			return &Result{Outcome: Interrupted, Err: ctx.Err(), Elapsed: time.Since(start)}, nil
		}
	}
}

// handlePeerMessage translates one wire message into the scheduler event
// it corresponds to, per the message-passing split described for the
// peer/scheduler boundary: peers never see the scheduler, the scheduler
// never sees a peer, the engine is the only thing that knows both.
func handlePeerMessage(m peer.Message, info *metainfo.Info, sched *scheduler.Scheduler) {
	id := m.Peer.String()
	switch msg := m.Message.(type) {
	case *peerwire.BitfieldMessage:
		bf := bitfield.NewFromBytes(append([]byte(nil), msg.Data...), info.NumPieces)
		have := make([]uint32, 0, bf.Count())
		for i := uint32(0); i < bf.Len(); i++ {
			if bf.Test(i) {
				have = append(have, i)
			}
		}
		sched.Inbox <- scheduler.BitfieldReceived{PeerID: id, Have: have}
	case peerwire.HaveAllMessage:
		sched.Inbox <- scheduler.BitfieldReceived{PeerID: id, Have: allPieces(info.NumPieces)}
	case peerwire.HaveMessage:
		sched.Inbox <- scheduler.HaveReceived{PeerID: id, Index: msg.Index}
	case peerwire.ChokeMessage:
		sched.Inbox <- scheduler.PeerChoked{PeerID: id}
	case peerwire.UnchokeMessage:
		sched.Inbox <- scheduler.PeerUnchoked{PeerID: id}
	case peerwire.Piece:
		data := append([]byte(nil), msg.Buffer.Data...)
		msg.Buffer.Release()
		sched.Inbox <- scheduler.BlockReceived{
			PeerID: id,
			Block:  scheduler.Block{Index: msg.Index, Begin: msg.Begin, Length: uint32(len(data))},
			Data:   data,
		}
	}
}

func allPieces(n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

// drainWrites blocks until every write enqueued before a Completed event
// has been reported back, surfacing the first write error seen.
func drainWrites(writer *storage.Writer, pending int) error {
	for pending > 0 {
		select {
		case res := <-writer.Results:
			pending--
			if res.Err != nil {
				return fmt.Errorf("engine: writing piece %d: %w", res.Index, res.Err)
			}
		case <-time.After(60 * time.Second):
			return errors.New("engine: timed out flushing pending writes")
		}
	}
	return nil
}

func snapshotProgress(info *metainfo.Info, piecesDone int, bytesDone int64, registry *peerRegistry, rate metrics.Meter, start time.Time) Progress {
	return Progress{
		PiecesDone:      piecesDone,
		PiecesTotal:     int(info.NumPieces),
		BytesDone:       bytesDone,
		BytesTotal:      info.TotalLength,
		PeersConnected:  registry.count(),
		PeersTotalSeen:  registry.totalSeen(),
		DownloadRateBps: rate.Rate1(),
		ElapsedS:        time.Since(start).Seconds(),
	}
}

// tapMessages feeds every peer message into inv before passing it on
// unchanged, so piece availability is never lost to whichever phase
// (metadata fetch or main loop) happens to be reading downstream at the
// time a peer's bitfield arrives.
func tapMessages(ctx context.Context, in <-chan peer.Message, out chan<- peer.Message, inv *inventory) {
	for {
		select {
		case m := <-in:
			inv.observe(m.Peer.String(), m.Message)
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func tapDisconnects(ctx context.Context, in <-chan *peer.Peer, out chan<- *peer.Peer, inv *inventory) {
	for {
		select {
		case p := <-in:
			inv.forget(p.String())
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// connectPeer dials, handshakes, starts the peer's wire goroutine, and
// immediately declares interest (this engine only ever leeches, so there
// is never a reason to wait before asking). A BEP 10 extension handshake
// follows if the remote advertised support, so ut_metadata can start
// without a second round trip later.
func connectPeer(ctx context.Context, addr *net.TCPAddr, src *Source, selfID [20]byte, cfg config.Config, registry *peerRegistry, msgs chan peer.Message, gone chan *peer.Peer, log logging.Logger) {
	p, ext, err := dial(ctx, addr, src.InfoHash, selfID, cfg)
	if err != nil {
		log.Debugln(err)
		return
	}
	registry.add(p)
	go p.Run(msgs, gone)
	p.BeInterested()
	if ext.SupportsExtended() {
		var metadataSize uint32
		if src.Info != nil {
			metadataSize = uint32(len(src.Info.Bytes))
		}
		p.SendMessage(peerwire.ExtensionMessage{
			ExtendedMessageID: peerwire.ExtensionIDHandshake,
			Payload:           peerwire.NewExtensionHandshake(metadataSize, clientVersion, cfg.Metadata.MaxQueuedPieces),
		})
	}
}

// waitForMetadataCapablePeer gives peers a little time to exchange their
// BEP 10 extension handshake (which arrives asynchronously, after the
// dial loop already considers them connected) before the ut_metadata
// fetch takes a snapshot of who can serve it.
func waitForMetadataCapablePeer(ctx context.Context, registry *peerRegistry, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, p := range registry.snapshot() {
			if p.ExtensionHandshake != nil && p.ExtensionHandshake.MetadataSize > 0 {
				return
			}
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

// discoverPeers resolves magnet peer hints and announces to every
// tracker tier, returning the union of candidate addresses. It is not
// fatal for trackers to fail entirely as long as some other source
// (hints, a different tier) produced at least one address.
func discoverPeers(ctx context.Context, src *Source, selfID [20]byte, cfg config.Config, log logging.Logger) ([]*net.TCPAddr, error) {
	var addrs []*net.TCPAddr
	seen := make(map[string]bool)
	add := func(a *net.TCPAddr) {
		key := a.String()
		if !seen[key] {
			seen[key] = true
			addrs = append(addrs, a)
		}
	}

	for _, hint := range src.PeerHints {
		if a, err := net.ResolveTCPAddr("tcp", hint); err == nil {
			add(a)
		}
	}

	if len(src.Trackers) > 0 {
		announceCtx, cancel := context.WithTimeout(ctx, cfg.Tracker.AnnounceTimeout)
		defer cancel()
		mgr := tracker.NewManager(trackerBuilder)
		req := tracker.AnnounceRequest{
			InfoHash:  src.InfoHash,
			PeerID:    selfID,
			BytesLeft: bytesLeft(src),
			Event:     tracker.EventStarted,
			NumWant:   cfg.Tracker.NumWant,
		}
		resp, err := mgr.Announce(announceCtx, src.Trackers, req)
		if err != nil {
			log.Warningln("tracker announce failed:", err)
		} else {
			for _, a := range resp.Peers {
				add(a)
			}
		}
	}

	if len(addrs) == 0 {
		return nil, errors.New("engine: no trackers or peer hints yielded a candidate peer")
	}
	return addrs, nil
}

// trackerBuilder selects an HTTP or UDP tracker client by announce URL
// scheme, the Builder function tracker.Manager needs to stay decoupled
// from both transport packages.
func trackerBuilder(announceURL string) (tracker.Tracker, error) {
	scheme, err := tracker.SchemeOf(announceURL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "http", "https":
		return httptracker.New(announceURL), nil
	case "udp":
		u, err := url.Parse(announceURL)
		if err != nil {
			return nil, err
		}
		return udptracker.New(announceURL, u.Host), nil
	default:
		return nil, fmt.Errorf("engine: unsupported tracker scheme %q", scheme)
	}
}

func bytesLeft(src *Source) int64 {
	if src.Info != nil {
		return src.Info.TotalLength
	}
	return 0
}

func generatePeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	n := copy(id[:], prefix)
	if _, err := rand.Read(id[n:]); err != nil {
		return id, err
	}
	return id, nil
}
