package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/vision_relay/pkg/config"
	"example.com/vision_relay/pkg/detect"
	"example.com/vision_relay/pkg/media"
	"example.com/vision_relay/pkg/media/mediatest"
	"example.com/vision_relay/pkg/room"
	"example.com/vision_relay/pkg/signal"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peerLog struct {
	mu    sync.Mutex
	peers []*mediatest.Peer
}

func (l *peerLog) newPeer() (media.Peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := mediatest.NewPeer()
	l.peers = append(l.peers, p)
	return p, nil
}

func (l *peerLog) get(i int) *mediatest.Peer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peers[i]
}

func newTestServer(t *testing.T) (*httptest.Server, *room.Registry, *peerLog) {
	t.Helper()
	cfg := &config.Config{FrameSkip: 3}
	registry := room.NewRegistry(func(media.Track, func() []signal.Channel) (room.SharedTrack, error) {
		return mediatest.NewShared(), nil
	}, nil)
	peers := &peerLog{}
	srv := newServer(cfg, registry, peers.newPeer, detect.Nop{}, testLogger())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, registry, peers
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestSignalingOverWebSocket(t *testing.T) {
	ts, registry, peers := newTestServer(t)

	cam := dial(t, ts, "/ws/kitchen/cam")
	require.NoError(t, cam.WriteJSON(map[string]any{
		"type": "offer",
		"sdp":  map[string]string{"type": "offer", "sdp": "v=0"},
	}))
	msg := readMessage(t, cam)
	assert.Equal(t, "answer", msg["type"])
	assert.Equal(t, "answer-sdp", msg["sdp"].(map[string]any)["sdp"])

	viewer := dial(t, ts, "/stream/ws/kitchen/tablet")
	require.NoError(t, viewer.WriteJSON(map[string]string{"type": "join_as_viewer"}))
	require.Eventually(t, func() bool {
		r, ok := registry.Lookup("kitchen")
		return ok && r.Info().Viewers == 1
	}, 2*time.Second, 10*time.Millisecond)

	peers.get(0).DeliverTrack(mediatest.NewTrack("video"))
	msg = readMessage(t, viewer)
	assert.Equal(t, "offer", msg["type"])
	assert.Equal(t, "offer-sdp-1", msg["sdp"].(map[string]any)["sdp"])

	second := dial(t, ts, "/ws/kitchen/intruder")
	require.NoError(t, second.WriteJSON(map[string]any{"type": "offer", "sdp": "v=0"}))
	msg = readMessage(t, second)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "room busy", msg["reason"])

	// closing the broadcaster's socket tears the room down
	cam.Close()
	require.NoError(t, viewer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := viewer.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool {
		_, ok := registry.Lookup("kitchen")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusEndpoints(t *testing.T) {
	ts, registry, _ := newTestServer(t)
	registry.Resolve("lobby")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 1, status.Rooms)
	assert.False(t, status.Detector)

	infos, err := fetchRooms(context.Background(), ts.URL+"/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "lobby", infos[0].Name)
	assert.Equal(t, "empty", infos[0].State)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ws/only-room")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRenderRooms(t *testing.T) {
	var buf bytes.Buffer
	renderRooms(&buf, []room.Info{
		{Name: "kitchen", State: "broadcasting_live", Broadcaster: "cam", Viewers: 2, Live: true},
		{Name: "lobby", State: "empty"},
	})
	out := buf.String()
	assert.Contains(t, out, "kitchen")
	assert.Contains(t, out, "broadcasting_live")
	assert.Contains(t, out, "lobby")
	assert.Contains(t, strings.ToLower(out), "total")
}

func TestDetectionPinsVideoCodecToVP8(t *testing.T) {
	assert.Equal(t, []string{webrtc.MimeTypeVP8, webrtc.MimeTypeH264}, offeredVideoCodecs(&config.Config{}))
	assert.Equal(t, []string{webrtc.MimeTypeVP8}, offeredVideoCodecs(&config.Config{DetectorURL: "ws://worker/infer"}))
}

func TestExplicitZeroConfidenceFlag(t *testing.T) {
	o := flagOptions(serveCmd)
	assert.Nil(t, o.Confidence)
	assert.Nil(t, o.PLIInterval)

	require.NoError(t, serveCmd.Flags().Set("confidence", "0"))
	o = flagOptions(serveCmd)
	require.NotNil(t, o.Confidence)
	assert.Zero(t, *o.Confidence)
	assert.Nil(t, o.PLIInterval, "untouched flags stay unset")

	t.Setenv("DETECT_CONFIDENCE", "0.7")
	cfg, err := config.Load(o)
	require.NoError(t, err)
	assert.Zero(t, cfg.Confidence)
}
