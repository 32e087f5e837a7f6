package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/vision_relay/pkg/detect"
	"github.com/pion/webrtc/v4"
)

// ErrProtocol marks a frame that cannot be read as a signaling message
var ErrProtocol = errors.New("protocol error")

// Kind is the wire tag of a message
type Kind string

const (
	KindOffer           Kind = "offer"
	KindAnswer          Kind = "answer"
	KindCandidate       Kind = "candidate"
	KindJoinAsViewer    Kind = "join_as_viewer"
	KindDetectionResult Kind = "detection_result"
	KindError           Kind = "error"
)

// Message is one signaling message. The set of implementations is closed.
type Message interface {
	Kind() Kind
	message()
}

// Offer proposes a session description
type Offer struct {
	SDP webrtc.SessionDescription
}

// Answer answers an Offer
type Answer struct {
	SDP webrtc.SessionDescription
}

// Candidate carries an ICE candidate in either object or string form.
// Raw is parsed lazily with ParseCandidate so a bad payload never fails decoding.
type Candidate struct {
	Raw json.RawMessage
}

// JoinAsViewer declares the viewer role
type JoinAsViewer struct{}

// DetectionResult carries detections for one sampled frame.
// OrigShape is [height, width] of the source frame.
type DetectionResult struct {
	Detections []detect.Detection
	OrigShape  [2]int
}

// Error reports a rejection to the client
type Error struct {
	Reason string
}

// ReasonNegotiation is sent when a peer connection could not be negotiated
const ReasonNegotiation = "negotiation failed"

// Unknown is any message whose tag is not recognised
type Unknown struct {
	Type string
}

func (Offer) Kind() Kind           { return KindOffer }
func (Answer) Kind() Kind          { return KindAnswer }
func (Candidate) Kind() Kind       { return KindCandidate }
func (JoinAsViewer) Kind() Kind    { return KindJoinAsViewer }
func (DetectionResult) Kind() Kind { return KindDetectionResult }
func (Error) Kind() Kind           { return KindError }
func (u Unknown) Kind() Kind       { return Kind(u.Type) }

func (Offer) message()           {}
func (Answer) message()          {}
func (Candidate) message()       {}
func (JoinAsViewer) message()    {}
func (DetectionResult) message() {}
func (Error) message()           {}
func (Unknown) message()         {}

// envelope is the JSON shape shared by every message
type envelope struct {
	Type       string             `json:"type"`
	SDP        json.RawMessage    `json:"sdp,omitempty"`
	Candidate  json.RawMessage    `json:"candidate,omitempty"`
	Detections []detect.Detection `json:"detections,omitempty"`
	OrigShape  []int              `json:"orig_shape,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Decode parses a JSON frame into a Message
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch Kind(env.Type) {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	case KindOffer:
		sdp, err := decodeSDP(env.SDP, webrtc.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return Offer{SDP: sdp}, nil
	case KindAnswer:
		sdp, err := decodeSDP(env.SDP, webrtc.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return Answer{SDP: sdp}, nil
	case KindCandidate:
		return Candidate{Raw: env.Candidate}, nil
	case KindJoinAsViewer:
		return JoinAsViewer{}, nil
	case KindDetectionResult:
		res := DetectionResult{Detections: env.Detections}
		if len(env.OrigShape) >= 2 {
			res.OrigShape = [2]int{env.OrigShape[0], env.OrigShape[1]}
		}
		return res, nil
	case KindError:
		return Error{Reason: env.Reason}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// decodeSDP accepts {"sdp": "...", "type": "..."} or a bare SDP string
func decodeSDP(raw json.RawMessage, fallback webrtc.SDPType) (webrtc.SessionDescription, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing sdp", ErrProtocol)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return webrtc.SessionDescription{Type: fallback, SDP: s}, nil
	}

	var obj struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	desc := webrtc.SessionDescription{Type: fallback, SDP: obj.SDP}
	if obj.Type != "" {
		desc.Type = webrtc.NewSDPType(obj.Type)
	}
	return desc, nil
}

// Encode renders a Message as a JSON frame
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: string(m.Kind())}

	switch v := m.(type) {
	case Offer:
		sdp, err := encodeSDP(v.SDP)
		if err != nil {
			return nil, err
		}
		env.SDP = sdp
	case Answer:
		sdp, err := encodeSDP(v.SDP)
		if err != nil {
			return nil, err
		}
		env.SDP = sdp
	case Candidate:
		env.Candidate = v.Raw
	case JoinAsViewer:
	case DetectionResult:
		env.Detections = v.Detections
		env.OrigShape = v.OrigShape[:]
	case Error:
		env.Reason = v.Reason
	case Unknown:
	}

	return json.Marshal(env)
}

func encodeSDP(desc webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}{Type: desc.Type.String(), SDP: desc.SDP})
}
