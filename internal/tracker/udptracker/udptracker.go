// Package udptracker implements the BEP 15 UDP tracker protocol: a
// connect/announce handshake over a connectionless socket, with its own
// transaction-ID based request matching and retry schedule.
package udptracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/tracker"
)

// http://bittorrent.org/beps/bep_0015.html

const (
	connectionIDMagic   = 0x41727101980
	connectionIDMaxAge  = 60 * time.Second
	maxResponseDatagram = 20 + 6*1000 // header + up to 1000 compact peers
)

type action int32

const (
	actionConnect  action = 0
	actionAnnounce action = 1
	actionError    action = 3
)

var log = logging.New("udptracker")

// Tracker announces over UDP per BEP 15.
type Tracker struct {
	rawURL string
	addr   string

	mu           sync.Mutex
	conn         *net.UDPConn
	connectionID int64
	connectedAt  time.Time
}

var _ tracker.Tracker = (*Tracker)(nil)

// New returns a Tracker for a udp://host:port/... announce URL. addr is
// the host:port to dial.
func New(rawURL, addr string) *Tracker {
	return &Tracker{rawURL: rawURL, addr: addr}
}

// URL returns the tracker's announce URL.
func (t *Tracker) URL() string { return t.rawURL }

// Announce performs the connect (if needed) and announce steps, retrying
// per BEP 15's backoff schedule until ctx is done.
func (t *Tracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	if err := t.ensureConn(); err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
	}

	connID, err := t.connectionIDFor(ctx)
	if err != nil {
		return nil, err
	}

	key := rand.Uint32() // nolint: gosec
	txID := rand.Int31() // nolint: gosec
	packet := encodeAnnounceRequest(connID, txID, key, req)

	reply, err := t.roundTrip(ctx, packet, txID)
	if err != nil {
		return nil, err
	}

	resp, peersRaw, err := decodeAnnounceResponse(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrMalformedResponse, err)
	}
	peers, err := tracker.DecodePeersCompact(peersRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrMalformedResponse, err)
	}
	return &tracker.AnnounceResponse{
		Interval: time.Duration(resp.Interval) * time.Second,
		Leechers: resp.Leechers,
		Seeders:  resp.Seeders,
		Peers:    peers,
	}, nil
}

func (t *Tracker) ensureConn() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

// connectionIDFor returns a connection ID, re-obtaining one if none exists
// or the existing one is older than 60 seconds.
func (t *Tracker) connectionIDFor(ctx context.Context) (int64, error) {
	t.mu.Lock()
	if t.connectionID != 0 && time.Since(t.connectedAt) < connectionIDMaxAge {
		id := t.connectionID
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	txID := rand.Int31() // nolint: gosec
	packet := encodeConnectRequest(txID)
	reply, err := t.roundTrip(ctx, packet, txID)
	if err != nil {
		return 0, err
	}
	id, err := decodeConnectResponse(reply)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", tracker.ErrMalformedResponse, err)
	}

	t.mu.Lock()
	t.connectionID = id
	t.connectedAt = time.Now()
	t.mu.Unlock()
	return id, nil
}

// roundTrip sends packet and waits for a reply carrying the same
// transaction ID, retransmitting per BEP 15's schedule: timeout 15*2^n
// seconds for attempt n, capped at 8 attempts.
func (t *Tracker) roundTrip(ctx context.Context, packet []byte, txID int32) ([]byte, error) {
	bo := &bep15BackOff{}
	ticker := backoff.NewTicker(bo)
	defer ticker.Stop()

	replyC := make(chan []byte, 1)
	errC := make(chan error, 1)

	send := func() error {
		if bo.attempts > 8 {
			return fmt.Errorf("%w: exceeded retry budget", tracker.ErrUnreachable)
		}
		if _, err := t.conn.Write(packet); err != nil {
			return fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
		}
		go t.readOne(txID, replyC, errC)
		return nil
	}
	if err := send(); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ticker.C:
			if err := send(); err != nil {
				return nil, err
			}
		case reply := <-replyC:
			return reply, nil
		case err := <-errC:
			return nil, fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Tracker) readOne(wantTxID int32, replyC chan<- []byte, errC chan<- error) {
	buf := make([]byte, maxResponseDatagram)
	_ = t.conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	n, err := t.conn.Read(buf)
	if err != nil {
		return // the outer retry loop will retransmit
	}
	data := buf[:n]
	if len(data) < 8 {
		return
	}
	var hdr udpHeader
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &hdr); err != nil {
		return
	}
	if hdr.TransactionID != wantTxID {
		log.Debugln("udptracker: stray transaction id", hdr.TransactionID)
		return
	}
	if hdr.Action == actionError {
		select {
		case errC <- errors.New(string(data[8:])):
		default:
		}
		return
	}
	select {
	case replyC <- data:
	default:
	}
}

// Close closes the underlying UDP socket.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// bep15BackOff implements backoff.BackOff with BEP 15's schedule:
// 15*2^n seconds for attempt n, capped at 8 attempts.
type bep15BackOff struct {
	attempts int
}

func (b *bep15BackOff) NextBackOff() time.Duration {
	n := b.attempts
	if n > 8 {
		n = 8
	}
	b.attempts++
	return time.Duration(15*(1<<uint(n))) * time.Second
}

func (b *bep15BackOff) Reset() { b.attempts = 0 }
