package peerwire

import (
	"encoding/binary"
	"io"
)

// Message is a peer wire protocol message that streams its payload via Read,
// signaling completion with io.EOF on the final chunk.
type Message interface {
	io.Reader
	ID() MessageID
}

// HaveMessage announces that the sender now has the piece at Index.
type HaveMessage struct {
	Index uint32
}

func (m HaveMessage) ID() MessageID { return Have }

func (m HaveMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	return 4, io.EOF
}

// RequestMessage asks for a block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (m RequestMessage) ID() MessageID { return Request }

func (m RequestMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return 12, io.EOF
}

// PieceMessage is the fixed header of a piece block transfer; the block
// bytes themselves are streamed separately by the writer and reassembled
// by the reader.
type PieceMessage struct {
	Index, Begin uint32
}

func (m PieceMessage) ID() MessageID { return PieceID }

func (m PieceMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	return 8, io.EOF
}

// BitfieldMessage announces which pieces the sender has.
type BitfieldMessage struct {
	Data []byte
	pos  int
}

func (m *BitfieldMessage) ID() MessageID { return Bitfield }

func (m *BitfieldMessage) Read(b []byte) (n int, err error) {
	n = copy(b, m.Data[m.pos:])
	m.pos += n
	if m.pos == len(m.Data) {
		err = io.EOF
	}
	return
}

// PortMessage announces the UDP port of a DHT node run by the sender.
type PortMessage struct {
	Port uint16
}

func (m PortMessage) ID() MessageID { return Port }

func (m PortMessage) Read(b []byte) (int, error) {
	binary.BigEndian.PutUint16(b[0:2], m.Port)
	return 2, io.EOF
}

type emptyMessage struct{}

func (emptyMessage) Read(b []byte) (int, error) { return 0, io.EOF }

// ChokeMessage tells the peer it may not request pieces.
type ChokeMessage struct{ emptyMessage }

// UnchokeMessage tells the peer it may request pieces.
type UnchokeMessage struct{ emptyMessage }

// InterestedMessage tells the peer we want to request pieces once unchoked.
type InterestedMessage struct{ emptyMessage }

// NotInterestedMessage tells the peer we have nothing to request right now.
type NotInterestedMessage struct{ emptyMessage }

// HaveAllMessage is the fast-extension equivalent of a full bitfield.
type HaveAllMessage struct{ emptyMessage }

// HaveNoneMessage is the fast-extension equivalent of an empty bitfield.
type HaveNoneMessage struct{ emptyMessage }

// RejectMessage rejects a previously queued request (BEP 6).
type RejectMessage struct{ RequestMessage }

// CancelMessage cancels a previously sent request.
type CancelMessage struct{ RequestMessage }

// AllowedFastMessage marks a piece as downloadable while choked (BEP 6).
type AllowedFastMessage struct{ HaveMessage }

func (m ChokeMessage) ID() MessageID         { return Choke }
func (m UnchokeMessage) ID() MessageID       { return Unchoke }
func (m InterestedMessage) ID() MessageID    { return Interested }
func (m NotInterestedMessage) ID() MessageID { return NotInterested }
func (m HaveAllMessage) ID() MessageID       { return HaveAll }
func (m HaveNoneMessage) ID() MessageID      { return HaveNone }
func (m RejectMessage) ID() MessageID        { return Reject }
func (m CancelMessage) ID() MessageID        { return Cancel }
func (m AllowedFastMessage) ID() MessageID   { return AllowedFast }
