package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/vision_relay/pkg/detect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// worker runs a fake inference worker that answers every request with reply(req)
func worker(t *testing.T, reply func(Request) Response) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if err := msgpack.Unmarshal(data, &req); err != nil {
				return
			}
			resp, err := msgpack.Marshal(reply(req))
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testImage() detect.Image {
	return detect.Image{Width: 2, Height: 1, Format: detect.FormatBGR24, Pixels: []byte{1, 2, 3, 4, 5, 6}}
}

func TestDetectRoundTrip(t *testing.T) {
	seen := make(chan Request, 1)
	url := worker(t, func(req Request) Response {
		seen <- req
		return Response{ID: req.ID, Detections: []Box{{Class: 47, Conf: 0.7, Box: [4]float64{0, 0, 1, 1}}}}
	})

	client := NewClient(Config{URL: url, Timeout: 2 * time.Second})
	defer client.Close()

	raw, err := client.Detect(context.Background(), testImage(), detect.Options{Confidence: 0.3, InputSize: 480})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, detect.Raw{Class: 47, Confidence: 0.7, Box: [4]float64{0, 0, 1, 1}}, raw[0])

	assert.True(t, client.IsConnected())
	got := <-seen
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, "bgr24", got.Format)
	assert.Equal(t, 0.3, got.Conf)
	assert.Equal(t, 480, got.ImgSz)
	assert.NotEmpty(t, got.ID)
}

func TestDetectWorkerError(t *testing.T) {
	url := worker(t, func(req Request) Response {
		return Response{ID: req.ID, Error: "cuda out of memory"}
	})

	client := NewClient(Config{URL: url})
	defer client.Close()

	_, err := client.Detect(context.Background(), testImage(), detect.Options{})
	assert.ErrorIs(t, err, detect.ErrDetection)
}

func TestDetectTimesOutOnUnansweredRequest(t *testing.T) {
	url := worker(t, func(req Request) Response {
		return Response{ID: "someone-else"}
	})

	client := NewClient(Config{URL: url, Timeout: 100 * time.Millisecond})
	defer client.Close()

	_, err := client.Detect(context.Background(), testImage(), detect.Options{})
	assert.ErrorIs(t, err, detect.ErrDetection)
}

func TestDetectUnreachableWorker(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1/infer"})
	_, err := client.Detect(context.Background(), testImage(), detect.Options{})
	assert.ErrorIs(t, err, detect.ErrNotConnected)
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Close())
}
