package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fumen/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to flush queued frames once the client is closed
	drainWait = time.Second

	// Store blobs travel in one frame.
	maxMessageSize = 64 << 20

	sendBufferSize = 256
)

// client is one websocket connection to the relay. Room membership fields are
// guarded by the hub lock.
type client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	room   *room
	member protocol.Member

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With(zap.String("connectionID", id)),
		done:   make(chan struct{}),
	}
}

func (c *client) start() {
	c.hub.register(c)
	go c.writePump()
	go c.readPump()
}

// deliver queues a frame without blocking. A client that cannot keep up is
// disconnected.
func (c *client) deliver(f protocol.Frame) {
	data, err := f.Marshal()
	if err != nil {
		c.logger.Error("marshal frame", zap.String("event", f.Event), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping client")
		c.hub.metrics.Dropped.Inc()
		c.close()
	}
}

// close stops the client. The write pump flushes frames already queued and
// then closes the connection, which ends the read pump.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
		c.logger.Debug("read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary message")
			continue
		}
		f, err := protocol.ParseFrame(message)
		if err != nil {
			c.logger.Warn("bad frame", zap.Error(err))
			continue
		}
		c.hub.metrics.Frames.WithLabelValues(string(f.Kind), f.Event).Inc()
		c.hub.handle(c, f)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// drain writes what is left in the send buffer, then a close frame. The whole
// flush shares one deadline.
func (c *client) drain() {
	deadline := time.Now().Add(drainWait)
	c.conn.SetWriteDeadline(deadline)
	for {
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Debug("drain failed", zap.Error(err), zap.Int("left", len(c.send)))
				return
			}
		default:
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
