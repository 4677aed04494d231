package bencode

import "bytes"

// Unmarshal is a convenience wrapper around DecodeBytes.
func Unmarshal(data []byte, v interface{}) error {
	return DecodeBytes(data, v)
}

// Marshal is a convenience wrapper around EncodeBytes.
func Marshal(v interface{}) ([]byte, error) {
	return EncodeBytes(v)
}

// DecodeValue decodes a single bencoded value from b into the generic
// representation: int64, []byte, []interface{}, or *Dict.
func DecodeValue(b []byte) (interface{}, error) {
	d := NewDecoder(bytes.NewReader(b))
	v, err := d.decodeValue()
	if err != nil {
		return nil, err
	}
	if d.n != int64(len(b)) {
		return nil, d.malformed("trailing bytes after top-level value")
	}
	return v, nil
}

// EncodeValue encodes a generic value produced by DecodeValue back to
// bencode.
func EncodeValue(v interface{}) ([]byte, error) {
	return EncodeBytes(v)
}
