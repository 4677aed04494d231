// Package peer wraps a single peer wire connection with the choke/interest
// state machine and surfaces every received message as an event, without
// holding a reference back to the scheduler or to other peers.
package peer

import (
	"net"
	"time"

	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"

	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
)

// Direction records which side initiated the TCP connection, for logging only.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Peer wraps a handshaken connection and tracks the four booleans of the
// BitTorrent choke/interest protocol.
type Peer struct {
	conn      net.Conn
	reader    *peerwire.Reader
	writer    *peerwire.Writer
	Addr      *net.TCPAddr
	ID        [20]byte
	Direction Direction

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	ExtensionHandshake *peerwire.ExtensionHandshakeMessage
	SupportsMetadata   bool

	DownloadSpeed metrics.Meter

	log logging.Logger

	closeC chan struct{}
	doneC  chan struct{}
}

// Message pairs a received wire message with the Peer it came from, so a
// single fan-in channel can carry traffic from many peers without any of
// them knowing about each other.
type Message struct {
	Peer    *Peer
	Message interface{}
}

// New wraps conn, which must already be past the BitTorrent handshake.
// bucket limits inbound piece data; pass nil to disable.
func New(conn net.Conn, direction Direction, peerID [20]byte, pieceTimeout time.Duration, bucket *ratelimit.Bucket) *Peer {
	l := logging.New("peer " + conn.RemoteAddr().String())
	return &Peer{
		conn:          conn,
		reader:        peerwire.NewReader(conn, l, pieceTimeout, bucket),
		writer:        peerwire.NewWriter(conn, l, nil),
		Addr:          conn.RemoteAddr().(*net.TCPAddr),
		ID:            peerID,
		Direction:     direction,
		AmChoking:     true,
		PeerChoking:   true,
		DownloadSpeed: metrics.NewMeter(),
		log:           l,
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
	}
}

func (p *Peer) String() string { return p.conn.RemoteAddr().String() }

// Close stops the reader/writer goroutines and closes the underlying connection.
func (p *Peer) Close() {
	close(p.closeC)
	<-p.doneC
}

// SendMessage queues a message for sending. Does not block.
func (p *Peer) SendMessage(msg peerwire.Message) { p.writer.SendMessage(msg) }

// Request sends a block request. It does not change AmInterested.
func (p *Peer) Request(index, begin, length uint32) {
	p.writer.SendMessage(peerwire.RequestMessage{Index: index, Begin: begin, Length: length})
}

// Cancel sends a cancel for a previously requested block.
func (p *Peer) Cancel(index, begin, length uint32) {
	p.writer.SendMessage(peerwire.CancelMessage{RequestMessage: peerwire.RequestMessage{Index: index, Begin: begin, Length: length}})
}

// BeInterested sends an interested message if we haven't already.
func (p *Peer) BeInterested() {
	if p.AmInterested {
		return
	}
	p.AmInterested = true
	p.writer.SendMessage(peerwire.InterestedMessage{})
}

// BeUninterested sends a not-interested message if we were interested.
func (p *Peer) BeUninterested() {
	if !p.AmInterested {
		return
	}
	p.AmInterested = false
	p.writer.SendMessage(peerwire.NotInterestedMessage{})
}

// Run receives messages until the connection fails or Close is called,
// applying choke/interest bookkeeping locally and forwarding every received
// message, including choke and interest changes, to messages.
// disconnect receives p once when the connection fails; it receives
// nothing when Run returns because Close was called.
func (p *Peer) Run(messages chan<- Message, disconnect chan<- *Peer) {
	defer close(p.doneC)
	defer p.conn.Close()

	go p.reader.Run()
	go p.writer.Run()
	defer func() { <-p.reader.Done() }()
	defer func() { <-p.writer.Done() }()

	for {
		select {
		case msg := <-p.reader.Messages():
			p.handle(msg, messages, disconnect)
		case <-p.writer.Messages():
			// Upload-side events (BlockUploaded) are not produced by a
			// leech-only peer, which never queues outgoing piece data.
		case <-p.reader.Done():
			p.writer.Stop()
			p.disconnect(disconnect)
			return
		case <-p.writer.Done():
			p.reader.Stop()
			p.disconnect(disconnect)
			return
		case <-p.closeC:
			p.reader.Stop()
			p.writer.Stop()
			return
		}
	}
}

func (p *Peer) disconnect(disconnect chan<- *Peer) {
	select {
	case disconnect <- p:
	case <-p.closeC:
	}
}

func (p *Peer) handle(msg interface{}, messages chan<- Message, disconnect chan<- *Peer) {
	switch m := msg.(type) {
	case peerwire.ChokeMessage:
		p.PeerChoking = true
	case peerwire.UnchokeMessage:
		p.PeerChoking = false
	case peerwire.InterestedMessage:
		p.PeerInterested = true
	case peerwire.NotInterestedMessage:
		p.PeerInterested = false
	case peerwire.Piece:
		p.DownloadSpeed.Mark(int64(len(m.Buffer.Data)))
	case peerwire.ExtensionHandshakeMessage:
		p.ExtensionHandshake = &m
		_, p.SupportsMetadata = m.M[peerwire.ExtensionKeyMetadata]
	}
	select {
	case messages <- Message{Peer: p, Message: msg}:
	case <-p.closeC:
	}
}
