package peerwire

import (
	"encoding/binary"
	"errors"
	"io"
)

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

// ErrInvalidProtocol is returned when the remote side does not speak the
// BitTorrent wire protocol we expect.
var ErrInvalidProtocol = errors.New("peerwire: invalid protocol identifier in handshake")

// ExtensionBits is the 8-byte reserved field of the handshake, used to
// advertise support for BEP 10 and the fast extension (BEP 6).
type ExtensionBits [8]byte

// SupportsExtended reports whether the BEP 10 extension protocol bit is set.
func (e ExtensionBits) SupportsExtended() bool { return e[5]&0x10 != 0 }

// SetExtended sets the BEP 10 extension protocol bit.
func (e *ExtensionBits) SetExtended() { e[5] |= 0x10 }

// SupportsFast reports whether the BEP 6 fast extension bit is set.
func (e ExtensionBits) SupportsFast() bool { return e[7]&0x04 != 0 }

// SetFast sets the BEP 6 fast extension bit.
func (e *ExtensionBits) SetFast() { e[7] |= 0x04 }

// WriteHandshake writes the 68-byte BitTorrent handshake to w.
func WriteHandshake(w io.Writer, infoHash, peerID [20]byte, extensions ExtensionBits) error {
	h := struct {
		Pstr       [20]byte
		Extensions [8]byte
		InfoHash   [20]byte
		PeerID     [20]byte
	}{
		Pstr:       pstr,
		Extensions: extensions,
		InfoHash:   infoHash,
		PeerID:     peerID,
	}
	return binary.Write(w, binary.BigEndian, h)
}

// ReadHandshakeHeader reads the protocol string, extension bits, and
// info-hash, letting the caller validate the info-hash before committing
// to read the remote peer-id.
func ReadHandshakeHeader(r io.Reader) (extensions ExtensionBits, infoHash [20]byte, err error) {
	var p [20]byte
	if _, err = io.ReadFull(r, p[:]); err != nil {
		return
	}
	if p != pstr {
		err = ErrInvalidProtocol
		return
	}
	if _, err = io.ReadFull(r, extensions[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, infoHash[:])
	return
}

// ReadPeerID reads the remote peer-id, the final field of the handshake.
func ReadPeerID(r io.Reader) (peerID [20]byte, err error) {
	_, err = io.ReadFull(r, peerID[:])
	return
}
