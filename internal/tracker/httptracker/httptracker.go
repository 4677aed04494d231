// Package httptracker implements the HTTP(S) GET-based tracker announce
// protocol.
package httptracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/internal/bencode"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/tracker"
)

var log = logging.New("httptracker")

// Tracker announces over HTTP(S).
type Tracker struct {
	url       string
	client    *http.Client
	trackerID string
}

var _ tracker.Tracker = (*Tracker)(nil)

// New returns a Tracker for the given announce URL.
func New(announceURL string) *Tracker {
	return &Tracker{
		url: announceURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Dial:                (&net.Dialer{Timeout: 10 * time.Second}).Dial,
				TLSHandshakeTimeout: 10 * time.Second,
				DisableKeepAlives:   true,
			},
		},
	}
}

// URL returns the tracker's announce URL.
func (t *Tracker) URL() string { return t.url }

type wireResponse struct {
	FailureReason  string             `bencode:"failure reason"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	TrackerID      string             `bencode:"tracker id"`
	Complete       int32              `bencode:"complete"`
	Incomplete     int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
}

// Announce performs one GET request against the tracker.
func (t *Tracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
	}

	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(req.BytesLeft, 10))
	q.Set("compact", "1")
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
	}

	log.Debugln("announcing to", u.String())
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", tracker.ErrUnreachable, resp.StatusCode, body)
	}

	var wr wireResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrMalformedResponse, err)
	}

	if wr.FailureReason != "" {
		return nil, &tracker.RejectedError{Reason: wr.FailureReason}
	}
	if wr.WarningMessage != "" {
		log.Warning(wr.WarningMessage)
	}
	if wr.TrackerID != "" {
		t.trackerID = wr.TrackerID
	}

	peers, err := parsePeers(wr.Peers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tracker.ErrMalformedResponse, err)
	}

	return &tracker.AnnounceResponse{
		Interval: time.Duration(wr.Interval) * time.Second,
		Leechers: wr.Incomplete,
		Seeders:  wr.Complete,
		Peers:    peers,
	}, nil
}

// parsePeers handles both the compact binary peer list and the older
// dictionary-of-peers model.
func parsePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'l' {
		var peers []struct {
			IP   string `bencode:"ip"`
			Port uint16 `bencode:"port"`
		}
		if err := bencode.DecodeBytes(raw, &peers); err != nil {
			return nil, err
		}
		addrs := make([]*net.TCPAddr, len(peers))
		for i, p := range peers {
			addrs[i] = &net.TCPAddr{IP: net.ParseIP(p.IP), Port: int(p.Port)}
		}
		return addrs, nil
	}
	var compact []byte
	if err := bencode.DecodeBytes(raw, &compact); err != nil {
		return nil, err
	}
	return tracker.DecodePeersCompact(compact)
}

// Close releases idle connections held by the tracker's HTTP client.
func (t *Tracker) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
