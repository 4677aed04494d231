package tracker

import (
	"encoding/binary"
	"errors"
	"net"
)

// CompactPeer is the 6-byte (IPv4, port) wire form trackers use for
// compact peer lists.
type CompactPeer struct {
	IP   [net.IPv4len]byte
	Port uint16
}

// Addr returns the peer as a *net.TCPAddr.
func (p CompactPeer) Addr() *net.TCPAddr {
	ip := make(net.IP, net.IPv4len)
	copy(ip, p.IP[:])
	return &net.TCPAddr{IP: ip, Port: int(p.Port)}
}

// DecodePeersCompact parses a compact peer list: 6 bytes per peer, 4-byte
// big-endian IPv4 address followed by a 2-byte big-endian port.
func DecodePeersCompact(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%6 != 0 {
		return nil, errors.New("tracker: invalid compact peer list length")
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		var p CompactPeer
		copy(p.IP[:], b[i:i+4])
		p.Port = binary.BigEndian.Uint16(b[i+4 : i+6])
		addrs = append(addrs, p.Addr())
	}
	return addrs, nil
}

// EncodePeersCompact is the inverse of DecodePeersCompact, used by tests
// to build synthetic tracker responses.
func EncodePeersCompact(addrs []*net.TCPAddr) []byte {
	out := make([]byte, 0, len(addrs)*6)
	for _, a := range addrs {
		var buf [6]byte
		ip4 := a.IP.To4()
		copy(buf[:4], ip4)
		binary.BigEndian.PutUint16(buf[4:], uint16(a.Port))
		out = append(out, buf[:]...)
	}
	return out
}
