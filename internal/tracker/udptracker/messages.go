package udptracker

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/tchardonnens/vibe-torrent-client/internal/tracker"
)

type udpHeader struct {
	Action        action
	TransactionID int32
}

type connectRequestWire struct {
	ConnectionID int64
	udpHeader
}

func encodeConnectRequest(txID int32) []byte {
	req := connectRequestWire{
		ConnectionID: connectionIDMagic,
		udpHeader:    udpHeader{Action: actionConnect, TransactionID: txID},
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, req)
	return buf.Bytes()
}

type connectResponseWire struct {
	udpHeader
	ConnectionID int64
}

func decodeConnectResponse(data []byte) (int64, error) {
	var resp connectResponseWire
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &resp); err != nil {
		return 0, err
	}
	if resp.Action != actionConnect {
		return 0, errors.New("udptracker: unexpected action in connect response")
	}
	return resp.ConnectionID, nil
}

type announceRequestWire struct {
	ConnectionID int64
	udpHeader
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded int64
	Left       int64
	Uploaded   int64
	Event      int32
	IP         uint32
	Key        uint32
	NumWant    int32
	Port       uint16
}

func encodeAnnounceRequest(connID int64, txID int32, key uint32, req tracker.AnnounceRequest) []byte {
	wire := announceRequestWire{
		ConnectionID: connID,
		udpHeader:    udpHeader{Action: actionAnnounce, TransactionID: txID},
		InfoHash:     req.InfoHash,
		PeerID:       req.PeerID,
		Downloaded:   req.BytesDownloaded,
		Left:         req.BytesLeft,
		Uploaded:     req.BytesUploaded,
		Event:        int32(req.Event),
		Key:          key,
		NumWant:      int32(req.NumWant),
		Port:         uint16(req.Port),
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, wire)
	return buf.Bytes()
}

type announceResponseWire struct {
	udpHeader
	Interval int32
	Leechers int32
	Seeders  int32
}

func decodeAnnounceResponse(data []byte) (*announceResponseWire, []byte, error) {
	var resp announceResponseWire
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Action != actionAnnounce {
		return nil, nil, errors.New("udptracker: unexpected action in announce response")
	}
	headerSize := binary.Size(resp)
	peersRaw := data[headerSize:]
	return &resp, peersRaw, nil
}
