// Package proto holds the broker wire format shared by the signaling server and
// the peer library. Frames are JSON text messages on a websocket.
package proto

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

const (
	// Path the broker serves its websocket endpoint on.
	SignalPath = "/peerjs"

	// Capability a host bridge must grant before the microphone is opened.
	CapabilityRecordAudio = "android.permission.RECORD_AUDIO"
)

// Frame types. Server → client: Open, IDTaken, Error, Expire and the relayed
// ones. Client → server: Heartbeat and the relayed ones.
const (
	TypeOpen      = "OPEN"
	TypeIDTaken   = "ID-TAKEN"
	TypeError     = "ERROR"
	TypeExpire    = "EXPIRE"
	TypeHeartbeat = "HEARTBEAT"
	TypeOffer     = "OFFER"
	TypeAnswer    = "ANSWER"
	TypeCandidate = "CANDIDATE"
	TypeClose     = "CLOSE"
)

// Connection kinds carried in Payload.Type.
const (
	KindData  = "data"
	KindMedia = "media"
)

// SerializationNone sends payloads as raw bytes.
const SerializationNone = "none"

type Message struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload is the body of relayed frames.
type Payload struct {
	ConnectionID  string                     `json:"connectionId"`
	Type          string                     `json:"type"` // data|media
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Label         string                     `json:"label,omitempty"`
	Serialization string                     `json:"serialization,omitempty"`
	Reliable      bool                       `json:"reliable,omitempty"`
	Msg           string                     `json:"msg,omitempty"`
}

// IsRelayed reports whether the broker forwards frames of type t to Dst.
func IsRelayed(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeClose:
		return true
	}
	return false
}

// Encode builds a frame with a marshalled payload.
func Encode(typ, src, dst string, p *Payload) ([]byte, error) {
	m := Message{Type: typ, Src: src, Dst: dst}
	if p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		m.Payload = raw
	}
	return json.Marshal(m)
}

// NewError builds a server ERROR frame carrying text.
func NewError(text string) Message {
	raw, _ := json.Marshal(Payload{Msg: text})
	return Message{Type: TypeError, Payload: raw}
}

// Decode parses a frame; the payload is left raw.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodePayload parses the relayed payload of m.
func (m *Message) DecodePayload() (*Payload, error) {
	var p Payload
	if len(m.Payload) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
