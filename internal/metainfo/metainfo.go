// Package metainfo decodes .torrent files: the top-level announce/
// announce-list/url-list envelope plus the info dictionary whose exact
// original bytes double as the torrent's identity (its SHA-1 info-hash).
package metainfo

import (
	"errors"
	"io"
	"strings"

	"github.com/tchardonnens/vibe-torrent-client/internal/bencode"
)

// ErrNoInfoDict is returned when a metainfo file has no "info" key.
var ErrNoInfoDict = errors.New("metainfo: no info dict in torrent file")

// MetaInfo is a fully parsed .torrent file.
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string // tiered, per BEP 12
	URLList      []string   // web seeds, BEP 19
}

// New decodes a .torrent file read from r.
func New(r io.Reader) (*MetaInfo, error) {
	var envelope struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
		URLList      bencode.RawMessage `bencode:"url-list"`
	}
	if err := bencode.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, err
	}
	if len(envelope.Info) == 0 {
		return nil, ErrNoInfoDict
	}
	info, err := NewInfo(envelope.Info)
	if err != nil {
		return nil, err
	}

	mi := &MetaInfo{Info: *info}
	mi.AnnounceList = parseAnnounceList(envelope.AnnounceList, envelope.Announce)
	mi.URLList = parseURLList(envelope.URLList)
	return mi, nil
}

func parseAnnounceList(rawTiers, rawAnnounce bencode.RawMessage) [][]string {
	var out [][]string
	if len(rawTiers) > 0 {
		var tiers [][]string
		if err := bencode.DecodeBytes(rawTiers, &tiers); err == nil {
			for _, tier := range tiers {
				var kept []string
				for _, url := range tier {
					if isTrackerURL(url) {
						kept = append(kept, url)
					}
				}
				if len(kept) > 0 {
					out = append(out, kept)
				}
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	var single string
	if err := bencode.DecodeBytes(rawAnnounce, &single); err == nil && isTrackerURL(single) {
		out = append(out, []string{single})
	}
	return out
}

func isTrackerURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "udp://")
}

func isWebseedURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func parseURLList(raw bencode.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if raw[0] == 'l' {
		var list []string
		if err := bencode.DecodeBytes(raw, &list); err == nil {
			for _, s := range list {
				if isWebseedURL(s) {
					out = append(out, s)
				}
			}
		}
		return out
	}
	var single string
	if err := bencode.DecodeBytes(raw, &single); err == nil && isWebseedURL(single) {
		out = append(out, single)
	}
	return out
}
