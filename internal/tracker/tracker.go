// Package tracker announces a download to BitTorrent trackers over HTTP(S)
// and UDP (BEP 15), normalizing both into one request/response shape.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// Tracker announces a torrent and returns the peers it knows about.
type Tracker interface {
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
	URL() string
}

// AnnounceRequest carries everything a tracker needs to answer an
// announce, independent of transport.
type AnnounceRequest struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            int
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
	Event           Event
	NumWant         int
}

// AnnounceResponse is the transport-independent result of an announce.
type AnnounceResponse struct {
	Interval       time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []*net.TCPAddr
}

// ErrUnreachable is returned when the tracker could not be contacted at
// all (DNS failure, connection refused, timeout).
var ErrUnreachable = errors.New("tracker: unreachable")

// ErrMalformedResponse is returned when a tracker's response could not be
// decoded into the expected shape.
var ErrMalformedResponse = errors.New("tracker: malformed response")

// RejectedError is returned when the tracker explicitly rejected the
// request, carrying its failure reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "tracker rejected request: " + e.Reason }
