package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair returns a server-side Conn and the raw client websocket talking to it
func pair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	conns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- NewConn(ws, nil)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-conns:
		t.Cleanup(func() { c.Close() })
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func TestConnReceivesInOrderAndSkipsGarbage(t *testing.T) {
	conn, client := pair(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_as_viewer"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{{{`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"candidate","candidate":null}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindJoinAsViewer, first.Kind())

	second, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindCandidate, second.Kind())
}

func TestConnSend(t *testing.T) {
	conn, client := pair(t)

	require.NoError(t, conn.Send(Error{Reason: "room busy"}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","reason":"room busy"}`, string(data))
}

func TestConnCloseOnPeerDisconnect(t *testing.T) {
	conn, client := pair(t)
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Receive(ctx)
	assert.True(t, IsClosed(err))
	assert.True(t, conn.Closed())
	assert.ErrorIs(t, conn.Send(JoinAsViewer{}), ErrChannelClosed)
	assert.NoError(t, conn.Close())
}
