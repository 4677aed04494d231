// Package magnet parses magnet URIs into the information needed to start
// a metadata fetch: info-hash, trackers, direct peer hints and web seeds.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/multiformats/go-multihash"
)

// ErrInvalidMagnet is returned for any magnet URI that is not a well-formed
// magnet: link with a usable xt parameter.
var ErrInvalidMagnet = errors.New("magnet: invalid magnet link")

// Magnet holds everything a magnet URI can carry toward starting a
// download before the info dict itself is known.
type Magnet struct {
	InfoHash       [20]byte
	Name           string
	Trackers       [][]string // tiered, from tr / tr.<n>
	Peers          []string   // x.pe direct-connect hints, host:port
	WebSeeds       []string   // ws
	ExpectedLength int64      // xl, 0 if absent
}

// Parse parses a magnet: URI.
func Parse(s string) (*Magnet, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagnet, err)
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidMagnet, u.Scheme)
	}

	params := u.Query()
	xts, ok := params["xt"]
	if !ok || len(xts) == 0 || xts[0] == "" {
		return nil, fmt.Errorf("%w: missing xt parameter", ErrInvalidMagnet)
	}

	var m Magnet
	m.InfoHash, err = parseInfoHash(xts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagnet, err)
	}

	if names := params["dn"]; len(names) > 0 {
		m.Name = names[0]
	}

	m.Trackers = parseTrackerTiers(params)
	m.Peers = params["x.pe"]
	m.WebSeeds = params["ws"]

	if xl := params.Get("xl"); xl != "" {
		n, err := strconv.ParseInt(xl, 10, 64)
		if err == nil && n >= 0 {
			m.ExpectedLength = n
		}
	}

	return &m, nil
}

type trackerTier struct {
	trackers []string
	index    int
}

func parseTrackerTiers(params url.Values) [][]string {
	var tiers []trackerTier
	for key, values := range params {
		switch {
		case key == "tr":
			for i, tr := range values {
				tiers = append(tiers, trackerTier{trackers: []string{tr}, index: i - len(values)})
			}
		case strings.HasPrefix(key, "tr."):
			index, err := strconv.Atoi(key[len("tr."):])
			if err == nil && index >= 0 {
				tiers = append(tiers, trackerTier{trackers: values, index: index})
			}
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].index < tiers[j].index })
	out := make([][]string, len(tiers))
	for i, t := range tiers {
		out[i] = t.trackers
	}
	return out
}

// parseInfoHash accepts the urn:btih: form (40 hex or 32 base32 characters)
// and the urn:btmh: multihash form, requiring the digest underneath to be a
// 20-byte SHA-1 so it lines up with the rest of the protocol, which is
// defined entirely in terms of SHA-1 info-hashes.
func parseInfoHash(xt string) ([20]byte, error) {
	var ih [20]byte
	switch {
	case strings.HasPrefix(xt, "urn:btih:"):
		enc := xt[len("urn:btih:"):]
		var b []byte
		var err error
		switch len(enc) {
		case 40:
			b, err = hex.DecodeString(enc)
		case 32:
			b, err = base32.StdEncoding.DecodeString(strings.ToUpper(enc))
		default:
			return ih, errors.New("btih must be 32 or 40 characters")
		}
		if err != nil {
			return ih, err
		}
		copy(ih[:], b)
		return ih, nil
	case strings.HasPrefix(xt, "urn:btmh:"):
		enc := xt[len("urn:btmh:"):]
		b, err := multihash.FromHexString(enc)
		if err != nil {
			return ih, err
		}
		dm, err := multihash.Decode(b)
		if err != nil {
			return ih, err
		}
		if dm.Code != multihash.SHA1 || len(dm.Digest) != 20 {
			return ih, errors.New("invalid multihash (want a 20-byte SHA-1 digest)")
		}
		copy(ih[:], dm.Digest)
		return ih, nil
	default:
		return ih, errors.New(`xt must start with "urn:btih:" or "urn:btmh:"`)
	}
}

// String renders m back into a magnet: URI. A tier holding a single tracker
// is written as tr=; the trackers of a tier holding several are written as
// indexed tr.<n>=, where n is the tier's position.
func (m *Magnet) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(m.InfoHash[:]))
	if m.Name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(m.Name))
	}
	for i, tier := range m.Trackers {
		if len(tier) == 1 {
			b.WriteString("&tr=")
			b.WriteString(url.QueryEscape(tier[0]))
			continue
		}
		for _, t := range tier {
			b.WriteString("&tr.")
			b.WriteString(strconv.Itoa(i))
			b.WriteString("=")
			b.WriteString(url.QueryEscape(t))
		}
	}
	for _, p := range m.Peers {
		b.WriteString("&x.pe=")
		b.WriteString(p)
	}
	for _, ws := range m.WebSeeds {
		b.WriteString("&ws=")
		b.WriteString(url.QueryEscape(ws))
	}
	if m.ExpectedLength > 0 {
		b.WriteString("&xl=")
		b.WriteString(strconv.FormatInt(m.ExpectedLength, 10))
	}
	return b.String()
}
