package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fumen/internal/domain"
	"fumen/internal/protocol"
)

var (
	errNotInRoom  = errors.New("not in a room")
	errInRoom     = errors.New("already in a room")
	errHostOwned  = errors.New("the host owns the store")
	errHostLeft   = errors.New("host left the room")
	errNotHost    = errors.New("only the host publishes")
	errBadJoin    = fmt.Errorf("room and user names must be 1 to %d characters", protocol.NameLimit)
	validateInput = validator.New()
)

// room is a set of members in join order. members[0] is the host.
type room struct {
	name    string
	members []*client
	cursors map[string]protocol.Cursor
	dirty   bool
}

func (r *room) host() *client {
	if len(r.members) == 0 {
		return nil
	}
	return r.members[0]
}

func (r *room) roster() []protocol.Member {
	out := make([]protocol.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.member)
	}
	return out
}

// forward remembers where to return the host's answer to a guest request.
type forward struct {
	guest *client
	host  *client
	id    string
	event string
}

// Hub owns every room. Frames from one client are handled in arrival order
// under one lock, so whatever the host sends reaches each guest in the order
// the host sent it.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]*room
	pending map[string]forward

	cursorInterval time.Duration
	metrics        *Metrics
	logger         *zap.Logger
	stop           chan struct{}
	stopOnce       sync.Once
}

func newHub(cursorInterval time.Duration, metrics *Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[*client]struct{}),
		rooms:          make(map[string]*room),
		pending:        make(map[string]forward),
		cursorInterval: cursorInterval,
		metrics:        metrics,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// run sends cursor batches until the hub stops.
func (h *Hub) run() {
	ticker := time.NewTicker(h.cursorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return
		case <-ticker.C:
			h.flushCursors()
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.metrics.Connections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.metrics.Connections.Dec()
	for id, fw := range h.pending {
		if fw.guest == c {
			delete(h.pending, id)
		}
	}
	if c.room != nil {
		h.leave(c)
	}
}

func (h *Hub) handle(c *client, f protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch f.Kind {
	case protocol.KindRequest:
		h.handleRequest(c, f)
	case protocol.KindAck:
		h.handleAck(c, f)
	case protocol.KindEvent:
		h.handleEvent(c, f)
	}
}

func (h *Hub) handleRequest(c *client, f protocol.Frame) {
	if f.Event == protocol.JoinRoom {
		h.join(c, f)
		return
	}
	if c.room == nil {
		reject(c, f, errNotInRoom)
		return
	}
	switch f.Event {
	case protocol.RequestDB, protocol.UpdateDB, protocol.CreateNode, protocol.UpdateNode:
		host := c.room.host()
		if host == c {
			reject(c, f, errHostOwned)
			return
		}
		rid := uuid.NewString()
		h.pending[rid] = forward{guest: c, host: host, id: f.ID, event: f.Event}
		host.deliver(protocol.Frame{
			Kind:   protocol.KindRequest,
			ID:     rid,
			Event:  f.Event,
			Origin: c.member.ID,
			Body:   f.Body,
		})
	default:
		// delete_node included: removal is not replicated.
		reject(c, f, fmt.Errorf("%s: %w", f.Event, domain.ErrNotImplemented))
	}
}

func (h *Hub) join(c *client, f protocol.Frame) {
	var req protocol.JoinRequest
	if err := f.Decode(&req); err != nil {
		reject(c, f, err)
		return
	}
	if err := validateInput.Struct(req); err != nil {
		reject(c, f, errBadJoin)
		return
	}
	if c.room != nil {
		reject(c, f, errInRoom)
		return
	}

	r := h.rooms[req.Room]
	if r == nil {
		r = &room{name: req.Room, cursors: make(map[string]protocol.Cursor)}
		h.rooms[req.Room] = r
		h.metrics.Rooms.Inc()
	}
	c.member = protocol.Member{ID: c.id, Name: req.User}
	c.room = r
	r.members = append(r.members, c)
	isHost := r.host() == c

	ack, err := protocol.NewFrame(protocol.KindAck, f.ID, f.Event, protocol.JoinAck{
		Self:    c.member.ID,
		Host:    isHost,
		Members: r.roster(),
	})
	if err != nil {
		reject(c, f, err)
		return
	}
	c.deliver(ack)
	h.broadcast(r, c, protocol.SomeoneJoinRoom, protocol.RosterChange{Member: c.member, Members: r.roster()})

	h.logger.Info("member joined",
		zap.String("room", r.name), zap.String("member", c.member.ID),
		zap.String("name", c.member.Name), zap.Bool("host", isHost))
}

// leave removes c from its room. A leaving host dissolves the room.
func (h *Hub) leave(c *client) {
	r := c.room
	c.room = nil
	if r.host() == c {
		for _, m := range r.members[1:] {
			m.room = nil
			m.deliver(protocol.Frame{Kind: protocol.KindEvent, Event: protocol.HostLeft})
		}
		for id, fw := range h.pending {
			if fw.host == c {
				delete(h.pending, id)
				reject(fw.guest, protocol.Frame{ID: fw.id, Event: fw.event}, errHostLeft)
				h.metrics.Forwarded.WithLabelValues(fw.event, "host_left").Inc()
			}
		}
		delete(h.rooms, r.name)
		h.metrics.Rooms.Dec()
		h.logger.Info("host left, room dissolved", zap.String("room", r.name), zap.Int("guests", len(r.members)-1))
		return
	}

	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			break
		}
	}
	delete(r.cursors, c.member.ID)
	h.broadcast(r, nil, protocol.SomeoneLeaveRoom, protocol.RosterChange{Member: c.member, Members: r.roster()})
	h.logger.Info("member left", zap.String("room", r.name), zap.String("member", c.member.ID))
}

func (h *Hub) handleAck(c *client, f protocol.Frame) {
	fw, ok := h.pending[f.ID]
	if !ok || fw.host != c {
		h.logger.Debug("ack without pending request", zap.String("id", f.ID))
		return
	}
	delete(h.pending, f.ID)
	status := "ok"
	if f.Err != "" {
		status = "error"
	}
	h.metrics.Forwarded.WithLabelValues(fw.event, status).Inc()
	fw.guest.deliver(protocol.Frame{
		Kind:  protocol.KindAck,
		ID:    fw.id,
		Event: fw.event,
		Body:  f.Body,
		Err:   f.Err,
	})
}

func (h *Hub) handleEvent(c *client, f protocol.Frame) {
	r := c.room
	if r == nil {
		return
	}
	switch f.Event {
	case protocol.UpdateCursor:
		var cur protocol.Cursor
		if err := f.Decode(&cur); err != nil {
			c.logger.Debug("bad cursor", zap.Error(err))
			return
		}
		r.cursors[c.member.ID] = cur
		r.dirty = true

	case protocol.Publish:
		if r.host() != c {
			c.logger.Warn("publish from guest", zap.Error(errNotHost))
			return
		}
		var pub protocol.Publication
		if err := f.Decode(&pub); err != nil {
			c.logger.Warn("bad publication", zap.Error(err))
			return
		}
		out := protocol.Frame{Kind: protocol.KindEvent, Event: pub.Event, Body: pub.Body}
		for _, m := range r.members[1:] {
			if m.member.ID == pub.Origin {
				continue
			}
			m.deliver(out)
		}
	}
}

func (h *Hub) flushCursors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		if !r.dirty {
			continue
		}
		r.dirty = false
		batch := protocol.Cursors{}
		for _, m := range r.members {
			if cur, ok := r.cursors[m.member.ID]; ok {
				batch.Cursors = append(batch.Cursors, protocol.PeerCursor{ID: m.member.ID, Cursor: cur})
			}
		}
		h.broadcast(r, nil, protocol.CursorBatch, batch)
	}
}

// broadcast sends an event to every member of r except skip.
func (h *Hub) broadcast(r *room, skip *client, event string, body any) {
	f, err := protocol.NewFrame(protocol.KindEvent, "", event, body)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	for _, m := range r.members {
		if m != skip {
			m.deliver(f)
		}
	}
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func reject(c *client, req protocol.Frame, err error) {
	c.deliver(protocol.Frame{Kind: protocol.KindAck, ID: req.ID, Event: req.Event, Err: err.Error()})
}
