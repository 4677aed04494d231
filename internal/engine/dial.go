package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/internal/config"
	"github.com/tchardonnens/vibe-torrent-client/internal/peer"
	"github.com/tchardonnens/vibe-torrent-client/internal/peerwire"
)

// dial opens a TCP connection to addr and performs the BitTorrent
// handshake, returning a Peer ready for Run plus the remote's reserved
// extension bits so the caller can decide whether to follow up with the
// BEP 10 extension handshake once the peer's reader/writer are running.
func dial(ctx context.Context, addr *net.TCPAddr, infoHash, selfID [20]byte, cfg config.Config) (*peer.Peer, peerwire.ExtensionBits, error) {
	var zero peerwire.ExtensionBits
	dialer := net.Dialer{Timeout: cfg.Peer.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, zero, fmt.Errorf("engine: dial %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(cfg.Peer.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, zero, err
	}

	var extensions peerwire.ExtensionBits
	extensions.SetExtended()
	if err := peerwire.WriteHandshake(conn, infoHash, selfID, extensions); err != nil {
		conn.Close()
		return nil, zero, fmt.Errorf("engine: writing handshake to %s: %w", addr, err)
	}

	remoteExt, remoteInfoHash, err := peerwire.ReadHandshakeHeader(conn)
	if err != nil {
		conn.Close()
		return nil, zero, fmt.Errorf("engine: reading handshake from %s: %w", addr, err)
	}
	if remoteInfoHash != infoHash {
		conn.Close()
		return nil, zero, fmt.Errorf("engine: %s sent mismatched info-hash", addr)
	}
	remoteID, err := peerwire.ReadPeerID(conn)
	if err != nil {
		conn.Close()
		return nil, zero, fmt.Errorf("engine: reading peer id from %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, zero, err
	}

	p := peer.New(conn, peer.Outgoing, remoteID, cfg.Peer.KeepAliveTimeout, nil)
	return p, remoteExt, nil
}
