package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

var (
	ErrCandidateParse = errors.New("malformed candidate")
	// ErrEmptyCandidate is an end-of-candidates marker, not a failure
	ErrEmptyCandidate = errors.New("empty candidate")
)

// NewCandidate wraps a local candidate for sending
func NewCandidate(init webrtc.ICECandidateInit) (Candidate, error) {
	raw, err := json.Marshal(init)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Raw: raw}, nil
}

// ParseCandidate decodes and validates a candidate payload. It accepts
// {"candidate","sdpMid","sdpMLineIndex"} objects or a bare candidate string.
func ParseCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return webrtc.ICECandidateInit{}, ErrEmptyCandidate
	}

	var init webrtc.ICECandidateInit
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &init.Candidate); err != nil {
			return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %v", ErrCandidateParse, err)
		}
	case '{':
		if err := json.Unmarshal(raw, &init); err != nil {
			return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %v", ErrCandidateParse, err)
		}
	default:
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: unexpected payload", ErrCandidateParse)
	}

	line := strings.TrimSpace(init.Candidate)
	line = strings.TrimPrefix(line, "a=")
	line = strings.TrimPrefix(line, "candidate:")
	if line == "" {
		return webrtc.ICECandidateInit{}, ErrEmptyCandidate
	}
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %v", ErrCandidateParse, err)
	}

	init.Candidate = "candidate:" + line
	return init, nil
}
