package peerwire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"time"

	"github.com/juju/ratelimit"

	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
)

// MaxBlockSize is the largest block length we will accept in a request or
// piece message. Peers asking for or sending more are disconnected.
const MaxBlockSize = 16 * 1024

// time to wait for any message from a peer; peers must keep-alive to stay connected.
const readTimeout = 2 * time.Minute

// readBufferSize is sized for the smallest framed message we see often:
// length(4) + id(1) + request payload(12).
const readBufferSize = 4 + 1 + 12

var errStoppedWhileWaitingBucket = errors.New("peerwire: reader stopped while waiting for rate limit bucket")

// blockPool is shared by all readers so piece buffers of the standard block
// size are reused across peer connections instead of allocated per-read.
var blockPool = bufferpool.New(MaxBlockSize)

// Piece is a received piece message together with the pooled buffer backing
// its data. Callers must call Buffer.Release() once they are done with it.
type Piece struct {
	PieceMessage
	Buffer bufferpool.Buffer
}

// Reader receives framed messages from a peer connection on a background
// goroutine and publishes them on a channel.
type Reader struct {
	conn         net.Conn
	r            io.Reader
	log          logging.Logger
	pieceTimeout time.Duration
	bucket       *ratelimit.Bucket
	messages     chan interface{}
	stopC        chan struct{}
	doneC        chan struct{}
}

// NewReader wraps conn. bucket may be nil to disable inbound rate limiting.
func NewReader(conn net.Conn, l logging.Logger, pieceTimeout time.Duration, bucket *ratelimit.Bucket) *Reader {
	return &Reader{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, readBufferSize),
		log:          l,
		pieceTimeout: pieceTimeout,
		bucket:       bucket,
		messages:     make(chan interface{}),
		stopC:        make(chan struct{}),
		doneC:        make(chan struct{}),
	}
}

// Messages returns the channel of decoded messages. It is never closed;
// watch Done to learn when Run has returned.
func (p *Reader) Messages() <-chan interface{} { return p.messages }

// Stop asks Run to return as soon as possible.
func (p *Reader) Stop() { close(p.stopC) }

// Done returns a channel that is closed once Run has returned.
func (p *Reader) Done() <-chan struct{} { return p.doneC }

// Run reads and decodes messages until the connection fails, Stop is
// called, or a protocol violation is seen. It must be run in its own
// goroutine. The messages channel is left open; callers observe Done.
func (p *Reader) Run() {
	defer close(p.doneC)

	var err error
	defer func() {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF || err == errStoppedWhileWaitingBucket {
			return
		}
		if _, ok := err.(*net.OpError); ok {
			return
		}
		select {
		case <-p.stopC:
		default:
			p.log.Error(err)
		}
	}()

	first := true
	for {
		if err = p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		var length uint32
		if err = binary.Read(p.r, binary.BigEndian, &length); err != nil {
			return
		}
		if length == 0 {
			continue // keep-alive
		}

		var id MessageID
		if err = binary.Read(p.r, binary.BigEndian, &id); err != nil {
			return
		}
		length--

		var msg interface{}
		switch id {
		case Choke:
			msg = ChokeMessage{}
		case Unchoke:
			msg = UnchokeMessage{}
		case Interested:
			msg = InterestedMessage{}
		case NotInterested:
			msg = NotInterestedMessage{}
		case Have:
			var hm HaveMessage
			if err = binary.Read(p.r, binary.BigEndian, &hm); err != nil {
				return
			}
			msg = hm
		case Bitfield:
			if !first {
				err = errors.New("peerwire: bitfield can only be sent right after handshake")
				return
			}
			bm := &BitfieldMessage{Data: make([]byte, length)}
			if _, err = io.ReadFull(p.r, bm.Data); err != nil {
				return
			}
			msg = bm
		case Request:
			var rm RequestMessage
			if err = binary.Read(p.r, binary.BigEndian, &rm); err != nil {
				return
			}
			if rm.Length > MaxBlockSize {
				err = fmt.Errorf("peerwire: requested block size too large (%d > %d)", rm.Length, MaxBlockSize)
				return
			}
			msg = rm
		case Reject:
			var rm RejectMessage
			if err = binary.Read(p.r, binary.BigEndian, &rm); err != nil {
				return
			}
			msg = rm
		case Cancel:
			var cm CancelMessage
			if err = binary.Read(p.r, binary.BigEndian, &cm); err != nil {
				return
			}
			msg = cm
		case PieceID:
			var pm PieceMessage
			if err = binary.Read(p.r, binary.BigEndian, &pm); err != nil {
				return
			}
			length -= 8
			if length > MaxBlockSize {
				err = fmt.Errorf("peerwire: received block larger than allowed (%d > %d)", length, MaxBlockSize)
				return
			}
			var buf bufferpool.Buffer
			if buf, err = p.readBlock(length); err != nil {
				return
			}
			msg = Piece{PieceMessage: pm, Buffer: buf}
		case HaveAll:
			if !first {
				err = errors.New("peerwire: have_all can only be sent right after handshake")
				return
			}
			msg = HaveAllMessage{}
		case HaveNone:
			if !first {
				err = errors.New("peerwire: have_none can only be sent right after handshake")
				return
			}
			msg = HaveNoneMessage{}
		case AllowedFast:
			var am AllowedFastMessage
			if err = binary.Read(p.r, binary.BigEndian, &am); err != nil {
				return
			}
			msg = am
		case Port:
			var pm PortMessage
			if err = binary.Read(p.r, binary.BigEndian, &pm); err != nil {
				return
			}
			msg = pm
		case Extension:
			buf := make([]byte, length)
			if _, err = io.ReadFull(p.r, buf); err != nil {
				return
			}
			var em ExtensionMessage
			if err = em.UnmarshalBinary(buf); err != nil {
				return
			}
			msg = em.Payload
		default:
			if _, err = io.CopyN(ioutil.Discard, p.r, int64(length)); err != nil {
				return
			}
			continue
		}

		if id < 9 {
			first = false
		}

		select {
		case p.messages <- msg:
		case <-p.stopC:
			return
		}
	}
}

func (p *Reader) readBlock(length uint32) (buf bufferpool.Buffer, err error) {
	buf = blockPool.Get(int(length))
	defer func() {
		if err != nil {
			buf.Release()
		}
	}()

	var m int
	for {
		if p.bucket != nil {
			d := p.bucket.Take(int64(length))
			select {
			case <-time.After(d):
			case <-p.stopC:
				err = errStoppedWhileWaitingBucket
				return
			}
		}
		if err = p.conn.SetReadDeadline(time.Now().Add(p.pieceTimeout)); err != nil {
			return
		}
		var n int
		n, err = io.ReadFull(p.r, buf.Data[m:])
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() && n > 0 {
				m += n
				continue
			}
			return
		}
		return
	}
}
