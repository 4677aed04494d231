package engine

import (
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/internal/bufferpool"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/internal/peer"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/internal/scheduler"
	"github.com/tchardonnens/vibe-torrent-client/internal/storage"
)

func buildSinglePieceInfo(data []byte) *metainfo.Info {
	sum := sha1.Sum(data)
	return &metainfo.Info{
		Name:        "solo",
		PieceLength: uint32(len(data)),
		Pieces:      sum[:],
		NumPieces:   1,
		Length:      int64(len(data)),
		TotalLength: int64(len(data)),
	}
}

func TestHandlePeerMessageTranslatesBitfield(t *testing.T) {
	info := buildSinglePieceInfo([]byte{1, 2, 3, 4})
	info.NumPieces = 4
	sched := &scheduler.Scheduler{Inbox: make(chan interface{}, 8)}
	p, c := newFakePeer(t, 10)
	defer c.Close()
	msg := peer.Message{Peer: p, Message: &peerwire.BitfieldMessage{Data: []byte{0xA0}}}

	handlePeerMessage(msg, info, sched)

	ev := <-sched.Inbox
	br, ok := ev.(scheduler.BitfieldReceived)
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{0, 2}, br.Have)
}

func TestHandlePeerMessageTranslatesHaveAndChoke(t *testing.T) {
	info := buildSinglePieceInfo([]byte{1, 2, 3, 4})
	sched := &scheduler.Scheduler{Inbox: make(chan interface{}, 8)}
	p, c := newFakePeer(t, 11)
	defer c.Close()

	handlePeerMessage(peer.Message{Peer: p, Message: peerwire.HaveMessage{Index: 2}}, info, sched)
	handlePeerMessage(peer.Message{Peer: p, Message: peerwire.ChokeMessage{}}, info, sched)
	handlePeerMessage(peer.Message{Peer: p, Message: peerwire.UnchokeMessage{}}, info, sched)

	have := (<-sched.Inbox).(scheduler.HaveReceived)
	assert.EqualValues(t, 2, have.Index)
	_, ok := (<-sched.Inbox).(scheduler.PeerChoked)
	assert.True(t, ok)
	_, ok = (<-sched.Inbox).(scheduler.PeerUnchoked)
	assert.True(t, ok)
}

func TestHandlePeerMessageTranslatesPieceAndReleasesBuffer(t *testing.T) {
	info := buildSinglePieceInfo([]byte{1, 2, 3, 4})
	sched := &scheduler.Scheduler{Inbox: make(chan interface{}, 8)}
	p, c := newFakePeer(t, 12)
	defer c.Close()

	pool := bufferpool.New(4)
	buf := pool.Get(4)
	copy(buf.Data, []byte{9, 8, 7, 6})
	msg := peer.Message{Peer: p, Message: peerwire.Piece{
		PieceMessage: peerwire.PieceMessage{Index: 0, Begin: 0},
		Buffer:       buf,
	}}

	handlePeerMessage(msg, info, sched)

	ev := (<-sched.Inbox).(scheduler.BlockReceived)
	assert.Equal(t, []byte{9, 8, 7, 6}, ev.Data)
	assert.EqualValues(t, 0, ev.Block.Index)
	assert.EqualValues(t, 4, ev.Block.Length)
}

// memStorage is a minimal in-memory storage.Storage for exercising the
// engine's write path without touching the filesystem.
type memStorage struct {
	files map[string]*memFile
}

type memFile struct{ data []byte }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) { return copy(p, f.data[off:]), nil }
func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	return copy(f.data[off:], p), nil
}
func (f *memFile) Close() error { return nil }

func (s *memStorage) Open(name string, size int64) (storage.File, bool, error) {
	f, ok := s.files[name]
	if !ok {
		f = &memFile{data: make([]byte, size)}
		s.files[name] = f
	}
	return f, ok, nil
}

// TestRunLoopDrivesOnePeerToCompletion wires a single fake peer through
// net.Pipe, answering every RequestBlock with the matching wire bytes by
// hand, and checks that runLoop reaches Completed and the piece lands in
// storage.
func TestRunLoopDrivesOnePeerToCompletion(t *testing.T) {
	data := []byte("01234567")
	info := buildSinglePieceInfo(data)
	info.PieceLength = uint32(len(data))

	sto := &memStorage{files: make(map[string]*memFile)}
	layout, err := storage.Open(info, sto)
	require.NoError(t, err)
	defer layout.Close()
	writer := storage.NewWriter(layout, 1)
	defer writer.Stop()

	pool := bufferpool.New(int(info.PieceLength))
	sched := scheduler.New(info, 4, 64, 8, time.Second, pool)
	defer leaktest.Check(t)()
	go sched.Run()
	defer sched.Stop()

	registry := newPeerRegistry()
	client, server := net.Pipe()
	defer client.Close()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	p := peer.New(pipeConn{Conn: server, addr: addr}, peer.Incoming, [20]byte{9}, 2*time.Second, nil)

	msgs := make(chan peer.Message, 32)
	gone := make(chan *peer.Peer, 1)
	go p.Run(msgs, gone)
	defer p.Close()
	registry.add(p)

	sched.Inbox <- scheduler.PeerRequestable{PeerID: p.String()}
	sched.Inbox <- scheduler.BitfieldReceived{PeerID: p.String(), Have: []uint32{0}}
	sched.Inbox <- scheduler.PeerUnchoked{PeerID: p.String()}

	// Answer every Request with the matching bytes of data, as a real
	// seed would, until the connection closes.
	go func() {
		for {
			lenBuf := make([]byte, 4)
			if _, err := readFull(client, lenBuf); err != nil {
				return
			}
			length := beUint32(lenBuf)
			if length == 0 {
				continue // keep-alive
			}
			body := make([]byte, length)
			if _, err := readFull(client, body); err != nil {
				return
			}
			if body[0] != byte(peerwire.Request) {
				continue
			}
			index := beUint32(body[1:5])
			begin := beUint32(body[5:9])
			blockLen := beUint32(body[9:13])
			payload := append([]byte{byte(peerwire.PieceID)}, be32(index)...)
			payload = append(payload, be32(begin)...)
			payload = append(payload, data[begin:begin+blockLen]...)
			frame := append(be32(uint32(len(payload))), payload...)
			if _, err := client.Write(frame); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := runLoop(ctx, info, registry, msgs, gone, sched, writer, nil, time.Now(), logging.New("engine-test"))
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)

	f, ok := sto.files["solo"]
	require.True(t, ok)
	assert.Equal(t, data, f.data)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
