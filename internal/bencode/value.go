// Package bencode implements the B-encoding used by torrent metainfo
// files, tracker responses and the extension protocol.
package bencode

import "fmt"

// RawMessage holds a bencoded value in its original, undecoded bytes.
// Decoding into a RawMessage copies the exact span of the value instead of
// parsing it, which is how the info-hash is computed over the original
// bytes of the info dictionary rather than over a re-encoding of it.
type RawMessage []byte

// Dict is an ordered mapping from byte-string keys to bencoded values.
// Insertion order is preserved; on decode this is the order the keys
// appeared in the input (ascending for well-formed input), so iterating
// Keys reproduces the original encoding.
type Dict struct {
	keys   []string
	values map[string]interface{}
}

// NewDict returns an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]interface{})}
}

// Set inserts or replaces the value for key, preserving first-insertion
// position for existing keys.
func (d *Dict) Set(key string, value interface{}) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dictionary's keys in insertion order, the order the
// encoder writes them in.
func (d *Dict) Keys() []string {
	return d.keys
}

// Len returns the number of entries in the dictionary.
func (d *Dict) Len() int {
	return len(d.keys)
}

// ErrMalformed is returned for any bencode syntax error: truncation, bad
// digits, duplicate keys, out-of-order keys in strict mode, or trailing
// bytes after the top-level value.
type ErrMalformed struct {
	Reason string
	Offset int
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed bencode at offset %d: %s", e.Offset, e.Reason)
}
