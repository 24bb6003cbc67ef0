// Package transport carries protocol frames over a websocket connection to
// the relay.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fumen/internal/domain"
	"fumen/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 20
	sendBufferSize = 256
)

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("link closed")

// EventHandler receives an unsolicited event. It runs on the read loop.
type EventHandler func(f protocol.Frame)

// Reply answers a request. body may be nil; a non-nil err is sent as the
// acknowledgement error instead.
type Reply func(body any, err error) error

// RequestHandler serves a request forwarded by the relay. It runs on the read
// loop and may keep reply to answer later from another goroutine.
type RequestHandler func(f protocol.Frame, reply Reply)

type pending struct {
	apply func(protocol.Frame) error
	done  chan error
}

// Link is one client connection. Inbound frames are handled one at a time on
// a single read loop, in the order the relay sent them.
type Link struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu       sync.Mutex
	pending  map[string]*pending
	events   map[string]EventHandler
	requests map[string]RequestHandler

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a link to the relay websocket endpoint at url.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Link, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	l := &Link{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		logger:   logger.With(zap.String("relay", url)),
		pending:  make(map[string]*pending),
		events:   make(map[string]EventHandler),
		requests: make(map[string]RequestHandler),
		done:     make(chan struct{}),
	}
	go l.writePump()
	go l.readPump()
	return l, nil
}

// OnEvent registers the handler for one event name, replacing any previous one.
func (l *Link) OnEvent(event string, h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[event] = h
}

// OnRequest registers the handler for one forwarded request name.
func (l *Link) OnRequest(event string, h RequestHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests[event] = h
}

// Request sends a request and waits for its acknowledgement. apply, when not
// nil, runs on the read loop with the acknowledgement before any later frame
// is handled; its error is returned. An acknowledgement that arrives after
// ctx is done is discarded.
func (l *Link) Request(ctx context.Context, event string, body any, apply func(protocol.Frame) error) error {
	id := uuid.NewString()
	f, err := protocol.NewFrame(protocol.KindRequest, id, event, body)
	if err != nil {
		return err
	}
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	p := &pending{apply: apply, done: make(chan error, 1)}
	l.mu.Lock()
	l.pending[id] = p
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.enqueue(ctx, data); err != nil {
		return err
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", event, ctx.Err())
	case <-l.done:
		return fmt.Errorf("%s: %w", event, l.closedErr())
	}
}

// Emit sends a fire-and-forget event.
func (l *Link) Emit(ctx context.Context, event string, body any) error {
	f, err := protocol.NewFrame(protocol.KindEvent, "", event, body)
	if err != nil {
		return err
	}
	return l.write(ctx, f)
}

// write queues a prepared frame.
func (l *Link) write(ctx context.Context, f protocol.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", f.Event, err)
	}
	return l.enqueue(ctx, data)
}

func (l *Link) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-l.done:
		return l.closedErr()
	default:
	}
	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return l.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the link stops, by Close or by a connection error.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close stops the link. It is safe to call more than once.
func (l *Link) Close() error {
	l.shutdown(nil)
	return nil
}

func (l *Link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		deadline := time.Now().Add(time.Second)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		l.conn.Close()
	})
}

func (l *Link) closedErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, l.err)
	}
	return ErrClosed
}

func (l *Link) readPump() {
	defer l.logger.Debug("read pump stopped")

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.logger.Warn("relay read error", zap.Error(err))
			}
			l.shutdown(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			l.logger.Warn("ignoring non-binary message")
			continue
		}
		f, err := protocol.ParseFrame(message)
		if err != nil {
			l.logger.Warn("bad frame", zap.Error(err))
			continue
		}
		l.dispatch(f)
	}
}

func (l *Link) dispatch(f protocol.Frame) {
	switch f.Kind {
	case protocol.KindAck:
		l.mu.Lock()
		p := l.pending[f.ID]
		delete(l.pending, f.ID)
		l.mu.Unlock()
		if p == nil {
			l.logger.Debug("dropping late ack", zap.String("id", f.ID), zap.String("event", f.Event))
			return
		}
		if f.Err != "" {
			p.done <- fmt.Errorf("%w: %s", domain.ErrRequestFailed, f.Err)
			return
		}
		var err error
		if p.apply != nil {
			err = p.apply(f)
		}
		p.done <- err

	case protocol.KindEvent:
		l.mu.Lock()
		h := l.events[f.Event]
		l.mu.Unlock()
		if h == nil {
			l.logger.Debug("unhandled event", zap.String("event", f.Event))
			return
		}
		h(f)

	case protocol.KindRequest:
		l.mu.Lock()
		h := l.requests[f.Event]
		l.mu.Unlock()
		reply := l.replier(f)
		if h == nil {
			_ = reply(nil, fmt.Errorf("%s: %w", f.Event, domain.ErrNotImplemented))
			return
		}
		h(f, reply)
	}
}

func (l *Link) replier(req protocol.Frame) Reply {
	var once sync.Once
	return func(body any, err error) error {
		sent := errors.New("already answered")
		once.Do(func() {
			ack := protocol.Frame{Kind: protocol.KindAck, ID: req.ID, Event: req.Event, Origin: req.Origin}
			if err != nil {
				ack.Err = err.Error()
			} else if body != nil {
				raw, encErr := protocol.EncodeBody(body)
				if encErr != nil {
					ack.Err = encErr.Error()
				} else {
					ack.Body = raw
				}
			}
			sent = l.write(context.Background(), ack)
		})
		return sent
	}
}

func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.logger.Debug("write pump stopped")
	}()

	for {
		select {
		case <-l.done:
			return
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				l.logger.Warn("relay write failed", zap.Error(err))
				l.shutdown(err)
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.shutdown(err)
				return
			}
		}
	}
}
