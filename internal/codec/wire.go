package codec

import (
	"encoding/json"
	"fmt"

	"neromon/internal/nodeid"
)

// MsgType enumerates the RPC kinds of the peer wire protocol (spec 4.5).
type MsgType string

const (
	MsgPing      MsgType = "PING"
	MsgPong      MsgType = "PONG"
	MsgFindNode  MsgType = "FIND_NODE"
	MsgFindValue MsgType = "FIND_VALUE"
	MsgStore     MsgType = "STORE"
	MsgMap       MsgType = "MAP"
	MsgResult    MsgType = "RESULT"
	MsgError     MsgType = "ERROR"
)

// WireVersion is the only peer wire protocol version this daemon speaks.
const WireVersion = 1

// WireContact is the serializable form of a routing contact, grounded on
// the d7024e wire.go wireContact shape but carrying the opaque endpoint
// string spec 6 requires rather than a fixed host:port pair.
type WireContact struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// Envelope is the required top-level shape of every peer message (spec 6,
// "Peer wire protocol").
type Envelope struct {
	Version uint8           `json:"version"`
	Type    MsgType         `json:"type"`
	ID      uint64          `json:"id"`
	Sender  WireContact     `json:"sender"`
	Body    json.RawMessage `json:"body"`
}

func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.Version != WireVersion {
		return Envelope{}, fmt.Errorf("codec: unsupported wire version %d", e.Version)
	}
	return e, nil
}

// PingBody / PongBody carry no payload beyond the envelope's sender.
type PingBody struct{}
type PongBody struct{}

// FindNodeBody requests the contacts closest to Target.
type FindNodeBody struct {
	Target string `json:"target"`
}

// FindNodeResult returns up to k contacts.
type FindNodeResult struct {
	Contacts []WireContact `json:"contacts"`
}

// FindValueBody requests the value stored under Key, falling back to
// closest contacts when the responder doesn't hold it.
type FindValueBody struct {
	Key string `json:"key"`
}

// FindValueResult carries either a hit or a closest-contacts fallback. TTL
// is the hit's remaining seconds, carried so a caching requester can
// re-STORE it with an accurate lifetime instead of a fresh full TTL.
type FindValueResult struct {
	Value    string        `json:"value,omitempty"`
	TTL      int64         `json:"ttl,omitempty"`
	Contacts []WireContact `json:"contacts,omitempty"`
}

// StoreBody asks the responder to insert key/value with the given TTL
// (seconds).
type StoreBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTL   int64  `json:"ttl"`
}

// StoreResult reports whether the STORE was accepted.
type StoreResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// MapBody hints that a search term should be associated with a key.
type MapBody struct {
	SearchTerm string `json:"search_term"`
	Key        string `json:"key"`
	Tag        string `json:"tag"`
}

// ErrorBody carries a structured error (spec 7).
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewEnvelope builds an outbound envelope with the local contact as sender.
func NewEnvelope(id uint64, typ MsgType, self nodeid.NodeID, selfEndpoint string, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version: WireVersion,
		Type:    typ,
		ID:      id,
		Sender:  WireContact{ID: self.String(), Endpoint: selfEndpoint},
		Body:    raw,
	}, nil
}
