package peerwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tchardonnens/vibe-torrent-client/internal/bencode"
)

// BEP 10 extension message IDs, local to the extension protocol namespace.
const (
	ExtensionIDHandshake = 0
	ExtensionIDMetadata  = 1
)

// ExtensionKeyMetadata is the "m" dictionary key peers use to negotiate
// ut_metadata support.
const ExtensionKeyMetadata = "ut_metadata"

// BEP 9 ut_metadata message types.
const (
	MetadataRequest = 0
	MetadataData    = 1
	MetadataReject  = 2
)

// ExtensionMessage carries a BEP 10 extended message. Payload is one of
// ExtensionHandshakeMessage or ExtensionMetadataMessage.
type ExtensionMessage struct {
	ExtendedMessageID uint8
	Payload           interface{}
}

func (m ExtensionMessage) ID() MessageID { return Extension }

func (m ExtensionMessage) Read([]byte) (int, error) {
	panic("peerwire: ExtensionMessage.Read must not be called, use WriteTo")
}

// WriteTo bencodes the extended message id and payload, appending raw
// metadata piece bytes for ExtensionMetadataMessage payloads.
func (m ExtensionMessage) WriteTo(w io.Writer) (n int64, err error) {
	nn, err := w.Write([]byte{m.ExtendedMessageID})
	n += int64(nn)
	if err != nil {
		return
	}
	wc := &countingWriter{w: w}
	err = bencode.NewEncoder(wc).Encode(m.Payload)
	n += wc.count
	if err != nil {
		return
	}
	if mm, ok := m.Payload.(ExtensionMetadataMessage); ok {
		nn, err = w.Write(mm.Data)
		n += int64(nn)
	}
	return
}

// UnmarshalBinary parses an extension message received from a peer.
func (m *ExtensionMessage) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("peerwire: empty extension message")
	}
	m.ExtendedMessageID = data[0]
	payload := data[1:]
	dec := bencode.NewDecoder(bytes.NewReader(payload))
	switch m.ExtendedMessageID {
	case ExtensionIDHandshake:
		var h ExtensionHandshakeMessage
		if err := dec.Decode(&h); err != nil {
			return err
		}
		if h.MetadataSize < 0 {
			h.MetadataSize = 0
		}
		m.Payload = h
	case ExtensionIDMetadata:
		var md ExtensionMetadataMessage
		if err := dec.Decode(&md); err != nil {
			return err
		}
		md.Data = payload[dec.BytesParsed():]
		m.Payload = md
	default:
		return fmt.Errorf("peerwire: peer sent unsupported extension message id: %d", m.ExtendedMessageID)
	}
	return nil
}

// ExtensionHandshakeMessage is the BEP 10 extension handshake payload.
type ExtensionHandshakeMessage struct {
	M            map[string]uint8 `bencode:"m"`
	V            string            `bencode:"v"`
	MetadataSize int               `bencode:"metadata_size,omitempty"`
	RequestQueue int               `bencode:"reqq"`
}

// NewExtensionHandshake builds the outgoing BEP 10 handshake, advertising
// ut_metadata support and, if known, the info dict's size.
func NewExtensionHandshake(metadataSize uint32, version string, requestQueueLength int) ExtensionHandshakeMessage {
	return ExtensionHandshakeMessage{
		M:            map[string]uint8{ExtensionKeyMetadata: ExtensionIDMetadata},
		V:            version,
		MetadataSize: int(metadataSize),
		RequestQueue: requestQueueLength,
	}
}

// ExtensionMetadataMessage is a BEP 9 ut_metadata message. Data holds the
// raw metadata piece bytes for MetadataData messages; it is not bencoded.
type ExtensionMetadataMessage struct {
	Type      int    `bencode:"msg_type"`
	Piece     uint32 `bencode:"piece"`
	TotalSize int    `bencode:"total_size,omitempty"`
	Data      []byte `bencode:"-"`
}

type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.count += int64(n)
	return n, err
}
