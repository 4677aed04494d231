package tracker

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// graceWindow is how long Manager.Announce keeps listening for tier
// responses after the first one arrives, so slower-but-valid tiers still
// contribute peers instead of being discarded in favor of only the
// fastest responder.
const graceWindow = 1500 * time.Millisecond

// Builder constructs a Tracker for one announce URL, selecting HTTP or
// UDP transport by scheme. Kept as a function value so the manager does
// not itself depend on the httptracker/udptracker packages, avoiding an
// import cycle with their tests.
type Builder func(announceURL string) (Tracker, error)

// Manager announces to every tier of a torrent's announce-list
// concurrently and merges the results.
type Manager struct {
	build Builder
}

// NewManager returns a Manager that constructs trackers with build.
func NewManager(build Builder) *Manager {
	return &Manager{build: build}
}

// tierResult is one tier's announce outcome.
type tierResult struct {
	resp *AnnounceResponse
	err  error
}

// Announce fans the request out to every tier in tiers concurrently.
// Once the first tier succeeds it keeps collecting for up to graceWindow
// (or until every tier has answered) so other tiers can contribute their
// own peers, then returns the union. If every tier fails, the first error
// seen is returned.
func (m *Manager) Announce(ctx context.Context, tiers [][]string, req AnnounceRequest) (*AnnounceResponse, error) {
	if len(tiers) == 0 {
		return nil, ErrUnreachable
	}

	resultC := make(chan tierResult, len(tiers))
	var wg sync.WaitGroup
	for _, tierURLs := range tiers {
		trackers := make([]Tracker, 0, len(tierURLs))
		for _, u := range tierURLs {
			tr, err := m.build(u)
			if err != nil {
				continue
			}
			trackers = append(trackers, tr)
		}
		if len(trackers) == 0 {
			continue
		}
		tier := NewTier(trackers)
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := tier.Announce(ctx, req)
			resultC <- tierResult{resp: resp, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(resultC)
	}()

	return m.collect(ctx, resultC)
}

func (m *Manager) collect(ctx context.Context, resultC <-chan tierResult) (*AnnounceResponse, error) {
	var firstErr error
	var merged *AnnounceResponse
	peerSet := map[string]*net.TCPAddr{}
	var deadline <-chan time.Time

	for {
		select {
		case res, ok := <-resultC:
			if !ok {
				if merged == nil {
					if firstErr == nil {
						firstErr = ErrUnreachable
					}
					return nil, firstErr
				}
				merged.Peers = flattenPeers(peerSet)
				return merged, nil
			}
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			if merged == nil {
				merged = res.resp
				deadline = time.After(graceWindow)
			}
			for _, p := range res.resp.Peers {
				peerSet[p.String()] = p
			}
		case <-deadline:
			merged.Peers = flattenPeers(peerSet)
			return merged, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func flattenPeers(set map[string]*net.TCPAddr) []*net.TCPAddr {
	out := make([]*net.TCPAddr, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

// SchemeOf returns the scheme of an announce URL, used by the engine to
// pick which Builder a given tracker needs.
func SchemeOf(announceURL string) (string, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", err
	}
	return u.Scheme, nil
}
