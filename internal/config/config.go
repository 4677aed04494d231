// Package config collects the tunable parameters of a download, grouped
// the way the teacher's client groups them (by subsystem), but as a
// single value threaded explicitly into the engine rather than a
// process-wide mutable singleton.
package config

import "time"

// Config holds every tunable of a single download run. Zero-value fields
// are filled in by Default.
type Config struct {
	Peer struct {
		// Maximum number of peer connections kept open concurrently.
		MaxPeers int
		// Time to wait for a TCP connection to open.
		ConnectTimeout time.Duration
		// Time to wait for the initial handshake to complete.
		HandshakeTimeout time.Duration
		// Read deadline for the body of an incoming piece message. The
		// idle timeout between messages is fixed inside peerwire.
		KeepAliveTimeout time.Duration
	}
	Scheduler struct {
		// Block size requested from peers, in bytes (16 KiB per the wire protocol convention).
		BlockSize uint32
		// Maximum in-flight block requests per peer (D in the piece scheduler).
		PipelineDepth int
		// Maximum pieces assigned concurrently to one peer (K in the piece scheduler).
		MaxConcurrentPieces int
		// Time to wait for a requested block before reassigning it.
		BlockTimeout time.Duration
	}
	Tracker struct {
		// num_want sent on announce requests.
		NumWant int
		// Timeout for a single HTTP or UDP announce attempt.
		AnnounceTimeout time.Duration
	}
	Metadata struct {
		// Concurrent ut_metadata piece requests in flight.
		MaxQueuedPieces int
	}
	PeerIDPrefix string
}

// Default returns the engine's baseline configuration.
func Default() Config {
	var c Config
	c.Peer.MaxPeers = 120
	c.Peer.ConnectTimeout = 5 * time.Second
	c.Peer.HandshakeTimeout = 10 * time.Second
	c.Peer.KeepAliveTimeout = 2 * time.Minute
	c.Scheduler.BlockSize = 16 * 1024
	c.Scheduler.PipelineDepth = 64
	c.Scheduler.MaxConcurrentPieces = 8
	c.Scheduler.BlockTimeout = 30 * time.Second
	c.Tracker.NumWant = 100
	c.Tracker.AnnounceTimeout = 30 * time.Second
	c.Metadata.MaxQueuedPieces = 10
	c.PeerIDPrefix = "-GT0001-"
	return c
}
