package engine

import (
	"github.com/tchardonnens/vibe-torrent-client/internal/magnet"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

// Source is what Run needs to start a download before dialing a single
// peer: an info-hash and enough tracker/peer hints to find some. Info is
// nil for a magnet source until the ut_metadata fetch fills it in.
type Source struct {
	InfoHash  [20]byte
	Info      *metainfo.Info
	Trackers  [][]string
	PeerHints []string
	Name      string
}

// FromMetaInfo builds a Source from an already-parsed .torrent file.
func FromMetaInfo(mi *metainfo.MetaInfo) *Source {
	info := mi.Info
	return &Source{
		InfoHash: info.Hash,
		Info:     &info,
		Trackers: mi.AnnounceList,
		Name:     info.Name,
	}
}

// FromMagnet builds a Source from a parsed magnet link. Info is left nil;
// Run fetches it over ut_metadata before the piece scheduler can start.
func FromMagnet(m *magnet.Magnet) *Source {
	return &Source{
		InfoHash:  m.InfoHash,
		Trackers:  m.Trackers,
		PeerHints: m.Peers,
		Name:      m.Name,
	}
}
