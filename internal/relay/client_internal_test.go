package relay

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fumen/internal/protocol"
)

// pipe returns a relay-side connection and the peer dialled into it.
func pipe(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(ts.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	select {
	case conn := <-accepted:
		return conn, peer
	case <-time.After(2 * time.Second):
		t.Fatal("connection not accepted")
		return nil, nil
	}
}

func TestClient_FlushesQueuedFramesOnClose(t *testing.T) {
	conn, peer := pipe(t)
	c := newClient(nil, conn, zap.NewNop())

	for i := range 5 {
		c.deliver(protocol.Frame{Kind: protocol.KindEvent, ID: strconv.Itoa(i), Event: protocol.HostLeft})
	}
	c.close()
	go c.writePump()

	for i := range 5 {
		peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := peer.ReadMessage()
		require.NoError(t, err, "frame %d", i)
		f, err := protocol.ParseFrame(data)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), f.ID)
		assert.Equal(t, protocol.HostLeft, f.Event)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := peer.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
