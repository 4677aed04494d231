package tracker

import (
	"context"
	"math/rand"
	"sync/atomic"
)

// Tier is a group of Trackers considered equally authoritative (BEP 12).
// Announce tries the current tracker in the tier and advances to the next
// one on failure, so a dead tracker in a tier is skipped on subsequent
// announces rather than retried forever.
type Tier struct {
	Trackers []Tracker
	index    int32
}

var _ Tracker = (*Tier)(nil)

// NewTier returns a Tier over trackers in randomized order, per BEP 12's
// recommendation to avoid hammering the first tracker listed.
func NewTier(trackers []Tracker) *Tier {
	rand.Shuffle(len(trackers), func(i, j int) { trackers[i], trackers[j] = trackers[j], trackers[i] })
	return &Tier{Trackers: trackers}
}

// Announce tries the tier's current tracker, advancing on failure.
func (t *Tier) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	index := t.loadIndex()
	resp, err := t.Trackers[index].Announce(ctx, req)
	if err != nil {
		atomic.CompareAndSwapInt32(&t.index, index, index+1)
	}
	return resp, err
}

// URL returns the tier's current tracker's URL.
func (t *Tier) URL() string {
	return t.Trackers[t.loadIndex()].URL()
}

func (t *Tier) loadIndex() int32 {
	index := atomic.LoadInt32(&t.index)
	if index >= int32(len(t.Trackers)) {
		index = 0
	}
	return index
}
