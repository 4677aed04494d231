package scheduler

// Inbound events. The caller (internal/engine) translates peer.Message
// and peer lifecycle notifications into these and feeds them to
// Scheduler.Inbox; the scheduler never touches a *peer.Peer directly.
type (
	// BlockReceived reports a block of piece data read off the wire.
	BlockReceived struct {
		PeerID string
		Block  Block
		Data   []byte
	}

	// HaveReceived reports that a peer announced it has a piece.
	HaveReceived struct {
		PeerID string
		Index  uint32
	}

	// BitfieldReceived reports a peer's full piece bitfield, seen once
	// per connection right after the handshake (or HaveAll/HaveNone).
	BitfieldReceived struct {
		PeerID string
		Have   []uint32
	}

	// PeerChoked reports that a peer started choking us; any pieces
	// assigned to it are reassigned to other peers.
	PeerChoked struct{ PeerID string }

	// PeerUnchoked reports that a peer stopped choking us, making it
	// eligible for new piece assignments.
	PeerUnchoked struct{ PeerID string }

	// PeerRequestable registers a newly connected peer. The peer starts
	// out choked and is assigned nothing until a PeerUnchoked arrives.
	PeerRequestable struct{ PeerID string }

	// PeerDisconnected removes a peer from all bookkeeping and
	// reassigns anything it had in flight.
	PeerDisconnected struct{ PeerID string }

	blockTimeout struct {
		PeerID string
		Block  Block
	}
)

// Outbound events, produced on Scheduler.Outbox.
type (
	// RequestBlock asks the caller to send a block request to PeerID.
	RequestBlock struct {
		PeerID string
		Block  Block
	}

	// CancelBlock asks the caller to send a cancel for a block that was
	// reassigned before the original peer answered it.
	CancelBlock struct {
		PeerID string
		Block  Block
	}

	// PieceVerified reports a fully downloaded and hash-checked piece,
	// ready for the storage writer. Release must be called once the
	// data has been written (or given up on), to return the backing
	// buffer to its pool.
	PieceVerified struct {
		Index   uint32
		Data    []byte
		Release func()
	}

	// PieceFailed reports a piece whose assembled bytes did not match
	// the expected hash; the scheduler has already requeued it. Peer is
	// the sole contributor at the time of failure, for demerit counting.
	PieceFailed struct {
		Index uint32
		Err   error
		Peer  string
	}

	// Completed reports that every piece has been verified.
	Completed struct{}
)
