package magnet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	u := "magnet:?xt=urn:btih:F60CC95E3566AF84C1AB223FD4CE80FA88E6438A&dn=sample_torrent&tr=udp%3a%2f%2ftracker.example%3a2710"
	m, err := Parse(u)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower("F60CC95E3566AF84C1AB223FD4CE80FA88E6438A"), hex.EncodeToString(m.InfoHash[:]))
	assert.Equal(t, "sample_torrent", m.Name)
	require.Len(t, m.Trackers, 1)
	assert.Equal(t, []string{"udp://tracker.example:2710"}, m.Trackers[0])
}

func TestParseMissingXT(t *testing.T) {
	_, err := Parse("magnet:?dn=foo")
	assert.ErrorIs(t, err, ErrInvalidMagnet)
}

func TestParseNotAMagnetScheme(t *testing.T) {
	_, err := Parse("http://example.com/?xt=urn:btih:" + strings.Repeat("a", 40))
	assert.ErrorIs(t, err, ErrInvalidMagnet)
}

func TestParseBase32InfoHash(t *testing.T) {
	hexHash := "f60cc95e3566af84c1ab223fd4ce80fa88e6438a"
	want, err := hex.DecodeString(hexHash)
	require.NoError(t, err)

	// Hand-derived base32 (RFC 4648, no padding needed at 20 bytes -> 32 chars)
	// for the same 20-byte value as above.
	b32 := toBase32(want)
	m, err := Parse("magnet:?xt=urn:btih:" + b32)
	require.NoError(t, err)
	assert.Equal(t, want, m.InfoHash[:])
}

func TestParseTieredTrackers(t *testing.T) {
	u := "magnet:?xt=urn:btih:" + strings.Repeat("a", 40) +
		"&tr.0=http://tier0a.example&tr.0=http://tier0b.example&tr.1=udp://tier1.example:80"
	m, err := Parse(u)
	require.NoError(t, err)
	require.Len(t, m.Trackers, 2)
	assert.ElementsMatch(t, []string{"http://tier0a.example", "http://tier0b.example"}, m.Trackers[0])
	assert.Equal(t, []string{"udp://tier1.example:80"}, m.Trackers[1])
}

func TestParsePeerHintsWebSeedsAndLength(t *testing.T) {
	u := "magnet:?xt=urn:btih:" + strings.Repeat("a", 40) +
		"&x.pe=1.2.3.4:6881&ws=http://seed.example/file&xl=123456"
	m, err := Parse(u)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4:6881"}, m.Peers)
	assert.Equal(t, []string{"http://seed.example/file"}, m.WebSeeds)
	assert.EqualValues(t, 123456, m.ExpectedLength)
}

func TestStringRoundTripsSingleTracker(t *testing.T) {
	u := "magnet:?xt=urn:btih:f60cc95e3566af84c1ab223fd4ce80fa88e6438a&dn=sample&tr=udp%3A%2F%2Ftracker.example%3A2710"
	m, err := Parse(u)
	require.NoError(t, err)
	got := m.String()
	assert.Contains(t, got, "xt=urn:btih:f60cc95e3566af84c1ab223fd4ce80fa88e6438a")
	assert.Contains(t, got, "dn=sample")
	assert.Contains(t, got, "tr=udp")
}

func toBase32(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	var out strings.Builder
	var buf uint64
	bits := 0
	for _, c := range b {
		buf = buf<<8 | uint64(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out.WriteByte(alphabet[(buf>>uint(bits))&0x1f])
		}
	}
	if bits > 0 {
		out.WriteByte(alphabet[(buf<<uint(5-bits))&0x1f])
	}
	return out.String()
}
