package signal

import (
	"encoding/json"
	"testing"

	"example.com/vision_relay/pkg/detect"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostCandidate = "candidate:1 1 udp 2130706431 192.168.1.2 54321 typ host"

func TestDecodeOfferObjectAndString(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0\r\n"}}`))
	require.NoError(t, err)
	offer, ok := msg.(Offer)
	require.True(t, ok)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.SDP.Type)
	assert.Equal(t, "v=0\r\n", offer.SDP.SDP)

	msg, err = Decode([]byte(`{"type":"answer","sdp":"v=0\r\n"}`))
	require.NoError(t, err)
	answer, ok := msg.(Answer)
	require.True(t, ok)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.SDP.Type)
}

func TestDecodeRejectsBrokenEnvelopes(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"sdp":"x"}`,
		`{"type":"offer"}`,
		`{"type":"offer","sdp":42}`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrProtocol, raw)
	}
}

func TestDecodeUnknownTagIsKept(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"screenshot","data":"..."}`))
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "screenshot"}, msg)
	assert.Equal(t, Kind("screenshot"), msg.Kind())
}

func TestDecodeCandidateKeepsRawPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"candidate","candidate":"garbage"}`))
	require.NoError(t, err)
	c, ok := msg.(Candidate)
	require.True(t, ok)
	assert.JSONEq(t, `"garbage"`, string(c.Raw))
}

func TestEncodeDetectionResult(t *testing.T) {
	data, err := Encode(DetectionResult{
		Detections: []detect.Detection{{Label: "apple", Confidence: 0.9, Box: [4]float64{1, 2, 3, 4}}},
		OrigShape:  [2]int{480, 640},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "detection_result",
		"detections": [{"label": "apple", "confidence": 0.9, "box": [1, 2, 3, 4]}],
		"orig_shape": [480, 640]
	}`, string(data))
}

func TestEncodeOfferAndError(t *testing.T) {
	data, err := Encode(Offer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`, string(data))

	data, err = Encode(Error{Reason: "room busy"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","reason":"room busy"}`, string(data))

	data, err = Encode(JoinAsViewer{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join_as_viewer"}`, string(data))
}

func TestParseCandidate(t *testing.T) {
	obj, err := json.Marshal(map[string]any{
		"candidate":     hostCandidate,
		"sdpMid":        "0",
		"sdpMLineIndex": 0,
	})
	require.NoError(t, err)

	init, err := ParseCandidate(obj)
	require.NoError(t, err)
	assert.Equal(t, hostCandidate, init.Candidate)
	require.NotNil(t, init.SDPMid)
	assert.Equal(t, "0", *init.SDPMid)

	str, _ := json.Marshal("a=" + hostCandidate)
	init, err = ParseCandidate(str)
	require.NoError(t, err)
	assert.Equal(t, hostCandidate, init.Candidate)
}

func TestParseCandidateFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"missing", ``, ErrEmptyCandidate},
		{"null", `null`, ErrEmptyCandidate},
		{"end of candidates", `{"candidate":""}`, ErrEmptyCandidate},
		{"number", `12`, ErrCandidateParse},
		{"garbage string", `"candidate:nonsense"`, ErrCandidateParse},
		{"bad object", `{"candidate":5}`, ErrCandidateParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCandidate(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewCandidateRoundTrips(t *testing.T) {
	mid := "0"
	c, err := NewCandidate(webrtc.ICECandidateInit{Candidate: hostCandidate, SDPMid: &mid})
	require.NoError(t, err)

	init, err := ParseCandidate(c.Raw)
	require.NoError(t, err)
	assert.Equal(t, hostCandidate, init.Candidate)
}
