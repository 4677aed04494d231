package peerwire

import "strconv"

// MessageID identifies the type of a message exchanged between peers.
type MessageID uint8

// Peer wire message types, per BEP 3 plus the fast extension and BEP 10.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	PieceID       MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
	AllowedFast   MessageID = 17
	HaveAll       MessageID = 14
	HaveNone      MessageID = 15
	Reject        MessageID = 16
	Extension     MessageID = 20
)

var messageIDNames = map[MessageID]string{
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	PieceID:       "piece",
	Cancel:        "cancel",
	Port:          "port",
	AllowedFast:   "allowed fast",
	HaveAll:       "have all",
	HaveNone:      "have none",
	Reject:        "reject",
	Extension:     "extension",
}

func (m MessageID) String() string {
	if s, ok := messageIDNames[m]; ok {
		return s
	}
	return strconv.FormatUint(uint64(m), 10)
}
