package peerwire

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/juju/ratelimit"

	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
)

const keepAlivePeriod = 2 * time.Minute

// BlockUploaded is emitted on the writer's Messages channel whenever a
// piece block finishes being written out, so callers can account for upload bytes.
type BlockUploaded struct {
	Length uint32
}

// outgoingPiece pairs a request with the ReaderAt backing the piece data,
// read lazily just before the bytes hit the wire.
type outgoingPiece struct {
	Data io.ReaderAt
	RequestMessage
}

func (p outgoingPiece) ID() MessageID { return PieceID }

func (p outgoingPiece) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], p.Index)
	binary.BigEndian.PutUint32(b[4:8], p.Begin)
	n, err := p.Data.ReadAt(b[8:8+p.Length], int64(p.Begin))
	m := n + 8
	if err != nil {
		return m, err
	}
	return m, io.EOF
}

// Writer serializes and sends queued messages to a peer on a background
// goroutine, interleaving periodic keep-alives.
type Writer struct {
	conn       net.Conn
	bucket     *ratelimit.Bucket
	queueC     chan Message
	cancelC    chan CancelMessage
	writeQueue *list.List
	writeC     chan Message
	messages   chan interface{}
	log        logging.Logger
	stopC      chan struct{}
	doneC      chan struct{}
}

// NewWriter wraps conn. bucket may be nil to disable outbound rate limiting.
func NewWriter(conn net.Conn, l logging.Logger, bucket *ratelimit.Bucket) *Writer {
	return &Writer{
		conn:       conn,
		bucket:     bucket,
		queueC:     make(chan Message),
		cancelC:    make(chan CancelMessage),
		writeQueue: list.New(),
		writeC:     make(chan Message),
		messages:   make(chan interface{}),
		log:        l,
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
}

// Messages returns events emitted while writing, currently just BlockUploaded.
func (p *Writer) Messages() <-chan interface{} { return p.messages }

// SendMessage queues msg for sending. Does not block.
func (p *Writer) SendMessage(msg Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// SendPiece queues a piece in response to req, reading its bytes from data
// only once the message reaches the front of the write queue.
func (p *Writer) SendPiece(req RequestMessage, data io.ReaderAt) {
	p.SendMessage(outgoingPiece{Data: data, RequestMessage: req})
}

// CancelRequest removes a previously queued piece message matching msg, if
// it has not been sent yet.
func (p *Writer) CancelRequest(msg CancelMessage) {
	select {
	case p.cancelC <- msg:
	case <-p.doneC:
	}
}

// Stop asks Run to return as soon as possible.
func (p *Writer) Stop() { close(p.stopC) }

// Done returns a channel that is closed once Run has returned.
func (p *Writer) Done() <-chan struct{} { return p.doneC }

// Run drains the send queue onto the wire until Stop is called or a write fails.
func (p *Writer) Run() {
	defer close(p.doneC)

	go p.messageWriter()

	for {
		var (
			e      *list.Element
			msg    Message
			writeC chan Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(Message)
			writeC = p.writeC
		}
		select {
		case msg = <-p.queueC:
			p.queueMessage(msg)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case cm := <-p.cancelC:
			p.cancelQueuedRequest(cm)
		case <-p.stopC:
			return
		}
	}
}

func (p *Writer) queueMessage(msg Message) {
	if _, ok := msg.(ChokeMessage); ok {
		p.dropQueuedPieces()
	}
	p.writeQueue.PushBack(msg)
}

func (p *Writer) dropQueuedPieces() {
	var next *list.Element
	for e := p.writeQueue.Front(); e != nil; e = next {
		next = e.Next()
		if _, ok := e.Value.(outgoingPiece); ok {
			p.writeQueue.Remove(e)
		}
	}
}

func (p *Writer) cancelQueuedRequest(cm CancelMessage) {
	for e := p.writeQueue.Front(); e != nil; e = e.Next() {
		if op, ok := e.Value.(outgoingPiece); ok && op.Index == cm.Index && op.Begin == cm.Begin && op.Length == cm.Length {
			p.writeQueue.Remove(e)
			return
		}
	}
}

func (p *Writer) messageWriter() {
	defer p.conn.Close()

	if err := p.conn.SetWriteDeadline(time.Time{}); err != nil {
		p.log.Error(err)
		return
	}

	keepAlive := time.NewTicker(keepAlivePeriod / 2)
	defer keepAlive.Stop()

	for {
		select {
		case msg := <-p.writeC:
			if err := p.writeMessage(msg); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := p.conn.Write([]byte{0, 0, 0, 0}); err != nil {
				return
			}
		case <-p.stopC:
			return
		}
	}
}

func (p *Writer) writeMessage(msg Message) error {
	var payload []byte
	if wt, ok := msg.(io.WriterTo); ok {
		var pb bytes.Buffer
		if _, err := wt.WriteTo(&pb); err != nil {
			p.log.Errorf("cannot encode message payload [%v]: %s", msg.ID(), err)
			return err
		}
		payload = pb.Bytes()
	} else {
		payload = make([]byte, payloadLen(msg))
		if _, err := msg.Read(payload); err != nil && err != io.EOF {
			p.log.Errorf("cannot read message payload [%v]: %s", msg.ID(), err)
			return err
		}
	}
	if p.bucket != nil {
		if _, ok := msg.(outgoingPiece); ok {
			<-time.After(p.bucket.Take(int64(len(payload))))
		}
	}
	buf := bytes.NewBuffer(make([]byte, 0, 4+1+len(payload)))
	header := struct {
		Length uint32
		ID     MessageID
	}{Length: uint32(1 + len(payload)), ID: msg.ID()}
	if err := binary.Write(buf, binary.BigEndian, &header); err != nil {
		return err
	}
	buf.Write(payload)
	n, err := p.conn.Write(buf.Bytes())
	p.countUpload(msg, n)
	if err != nil {
		if _, ok := err.(*net.OpError); !ok {
			p.log.Errorf("cannot write message [%v]: %s", msg.ID(), err)
		}
		return err
	}
	return nil
}

func (p *Writer) countUpload(msg Message, n int) {
	if _, ok := msg.(outgoingPiece); !ok {
		return
	}
	uploaded := n - 13
	if uploaded <= 0 {
		return
	}
	select {
	case p.messages <- BlockUploaded{Length: uint32(uploaded)}:
	case <-p.stopC:
	}
}

// payloadLen returns the exact payload size for msg so writeMessage can
// allocate a buffer that Read fills in a single call.
func payloadLen(msg Message) int {
	switch m := msg.(type) {
	case RequestMessage:
		return 12
	case CancelMessage:
		return 12
	case RejectMessage:
		return 12
	case HaveMessage:
		return 4
	case AllowedFastMessage:
		return 4
	case PortMessage:
		return 2
	case *BitfieldMessage:
		return len(m.Data)
	case outgoingPiece:
		return 8 + int(m.Length)
	default:
		return 0 // empty messages: choke/unchoke/interested/not-interested/have-all/have-none
	}
}
