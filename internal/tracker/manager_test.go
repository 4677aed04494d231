package tracker

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFromFakes(fakes map[string]*fakeTracker) Builder {
	return func(u string) (Tracker, error) {
		f, ok := fakes[u]
		if !ok {
			return nil, errors.New("no such fake tracker: " + u)
		}
		return f, nil
	}
}

func TestManagerMergesPeersFromAllSuccessfulTiers(t *testing.T) {
	fakes := map[string]*fakeTracker{
		"tier0": {url: "tier0", resp: &AnnounceResponse{
			Peers: []*net.TCPAddr{{IP: net.IPv4(1, 1, 1, 1), Port: 1}},
		}},
		"tier1": {url: "tier1", resp: &AnnounceResponse{
			Peers: []*net.TCPAddr{{IP: net.IPv4(2, 2, 2, 2), Port: 2}},
		}},
	}
	m := NewManager(buildFromFakes(fakes))
	resp, err := m.Announce(context.Background(), [][]string{{"tier0"}, {"tier1"}}, AnnounceRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Peers, 2)
}

func TestManagerSucceedsIfAnyTierSucceeds(t *testing.T) {
	fakes := map[string]*fakeTracker{
		"dead":  {url: "dead", err: errors.New("unreachable")},
		"alive": {url: "alive", resp: &AnnounceResponse{Seeders: 1}},
	}
	m := NewManager(buildFromFakes(fakes))
	resp, err := m.Announce(context.Background(), [][]string{{"dead"}, {"alive"}}, AnnounceRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Seeders)
}

func TestManagerFailsIfAllTiersFail(t *testing.T) {
	fakes := map[string]*fakeTracker{
		"dead1": {url: "dead1", err: errors.New("unreachable")},
		"dead2": {url: "dead2", err: errors.New("unreachable")},
	}
	m := NewManager(buildFromFakes(fakes))
	_, err := m.Announce(context.Background(), [][]string{{"dead1"}, {"dead2"}}, AnnounceRequest{})
	assert.Error(t, err)
}

func TestManagerRejectsEmptyTierList(t *testing.T) {
	m := NewManager(buildFromFakes(nil))
	_, err := m.Announce(context.Background(), nil, AnnounceRequest{})
	assert.ErrorIs(t, err, ErrUnreachable)
}
