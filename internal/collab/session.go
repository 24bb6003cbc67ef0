// Package collab runs a collaboration session: the relay connection, room
// membership, store transfer on join, the host's authority duties and cursor
// presence.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"fumen/internal/channel"
	"fumen/internal/domain"
	"fumen/internal/protocol"
	"fumen/internal/service"
	"fumen/internal/storage"
	"fumen/internal/transport"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Role is the part a connected client plays in its room.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// Frontend event names.
const (
	EventState    = "collab:state"
	EventRoster   = "collab:roster"
	EventPresence = "collab:presence"
	EventHostLeft = "collab:host_left"
)

// Status is sent with EventState.
type Status struct {
	State string `json:"state"`
	Role  string `json:"role"`
	Room  string `json:"room,omitempty"`
	Self  string `json:"self,omitempty"`
}

// Options tune a session.
type Options struct {
	// RequestTimeout bounds each round trip whose context has no deadline.
	RequestTimeout time.Duration
	// CursorInterval is the presence broadcast period.
	CursorInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.CursorInterval <= 0 {
		o.CursorInterval = 50 * time.Millisecond
	}
	return o
}

var validate = validator.New()

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, any) {}

// Session is the client side of collaboration. All methods are safe for
// concurrent use; Disconnect may be called in any state.
type Session struct {
	store   *storage.GraphStore
	sw      *channel.Switch
	local   channel.Channel
	loader  channel.Loader
	emitter service.EventEmitter
	opts    Options
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	role        Role
	link        *transport.Link
	remote      *channel.Remote
	self        string
	room        string
	roster      []protocol.Member
	colors      map[string]string
	presence    map[string]Presence
	synced      bool
	cursor      *protocol.Cursor
	lastSent    *protocol.Cursor
	stopTicker  chan struct{}
	unsubscribe func()
}

// New creates a disconnected session. local is the channel restored on
// disconnect; loader performs splash loads and may be nil.
func New(store *storage.GraphStore, sw *channel.Switch, local channel.Channel, loader channel.Loader,
	emitter service.EventEmitter, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Session{
		store:    store,
		sw:       sw,
		local:    local,
		loader:   loader,
		emitter:  emitter,
		opts:     opts.withDefaults(),
		logger:   logger,
		presence: make(map[string]Presence),
		colors:   make(map[string]string),
	}
}

// Connect dials the relay. On failure the session is back to Disconnected
// and the error wraps domain.ErrConnectionFailed.
func (s *Session) Connect(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.state != Disconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", st, domain.ErrInvalidState)
	}
	s.state = Connecting
	s.mu.Unlock()
	s.emitStatus()

	ctx, cancel := s.bound(ctx)
	defer cancel()
	link, err := transport.Dial(ctx, addr, s.logger)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.emitStatus()
		return err
	}

	s.mu.Lock()
	if s.state != Connecting {
		// Disconnect ran while dialing.
		s.mu.Unlock()
		link.Close()
		return fmt.Errorf("connect aborted: %w", domain.ErrConnectionFailed)
	}
	s.link = link
	s.state = Connected
	s.role = RoleNone
	s.mu.Unlock()

	s.registerHandlers(link)
	go s.watch(link)
	s.logger.Info("connected to relay", zap.String("addr", addr))
	s.emitStatus()
	return nil
}

// watch tears the session down when its link drops.
func (s *Session) watch(link *transport.Link) {
	<-link.Done()
	s.mu.Lock()
	current := s.link == link
	s.mu.Unlock()
	if current {
		s.logger.Warn("relay connection lost")
		s.Disconnect()
	}
}

// JoinRoom joins room as user. Names are checked before anything is sent.
// A guest switches to the remote channel and loads the host's store; a host
// keeps the local channel and starts serving the room. Any failure
// disconnects the session.
func (s *Session) JoinRoom(ctx context.Context, room, user string) error {
	req := protocol.JoinRequest{Room: room, User: user}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: room and user names must be 1 to %d characters", domain.ErrInvalidInput, protocol.NameLimit)
	}

	s.mu.Lock()
	link := s.link
	if s.state != Connected || s.role != RoleNone || link == nil {
		st, role := s.state, s.role
		s.mu.Unlock()
		return fmt.Errorf("join while %s as %s: %w", st, role, domain.ErrInvalidState)
	}
	s.mu.Unlock()

	if err := s.join(ctx, link, req); err != nil {
		s.Disconnect()
		return err
	}
	return nil
}

func (s *Session) join(ctx context.Context, link *transport.Link, req protocol.JoinRequest) error {
	rctx, cancel := s.bound(ctx)
	defer cancel()

	var ack protocol.JoinAck
	err := link.Request(rctx, protocol.JoinRoom, req, func(f protocol.Frame) error {
		return f.Decode(&ack)
	})
	if err != nil {
		return fmt.Errorf("join room %q: %w", req.Room, err)
	}

	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return fmt.Errorf("join room %q: %w", req.Room, domain.ErrConnectionFailed)
	}
	s.self = ack.Self
	s.room = req.Room
	s.roster = ack.Members
	s.colors = assignColors(ack.Members, ack.Self)
	if ack.Host {
		s.role = RoleHost
		s.synced = true
	} else {
		s.role = RoleGuest
	}
	s.mu.Unlock()

	s.logger.Info("joined room",
		zap.String("room", req.Room), zap.String("self", ack.Self), zap.Bool("host", ack.Host))
	s.emitStatus()
	s.emitRoster()

	if ack.Host {
		err = s.startHosting(link)
	} else {
		err = s.startGuest(ctx, link)
	}
	if err != nil {
		return err
	}
	s.startTicker(link)
	return nil
}

func (s *Session) startHosting(link *transport.Link) error {
	cancel := s.store.Subscribe(func(ev storage.Event) { s.publish(link, ev) })
	s.mu.Lock()
	stale := s.link != link
	if !stale {
		s.unsubscribe = cancel
	}
	s.mu.Unlock()
	if stale {
		cancel()
		return fmt.Errorf("host room: %w", domain.ErrConnectionFailed)
	}
	return nil
}

// startGuest installs the remote channel before the store transfer, so no
// edit made during the transfer can bypass the host.
func (s *Session) startGuest(ctx context.Context, link *transport.Link) error {
	remote := channel.NewRemote(link, s.store, s.loader, s.opts.RequestTimeout)
	s.sw.Swap(remote)
	// Disconnect swaps back to local after clearing the link, so checking the
	// link after our swap is enough to never leave a dead remote installed.
	s.mu.Lock()
	stale := s.link != link
	if !stale {
		s.remote = remote
	}
	s.mu.Unlock()
	if stale {
		s.sw.Swap(s.local)
		return fmt.Errorf("join as guest: %w", domain.ErrConnectionFailed)
	}

	rctx, cancel := s.bound(ctx)
	defer cancel()
	err := link.Request(rctx, protocol.RequestDB, nil, func(f protocol.Frame) error {
		var db protocol.DB
		if err := f.Decode(&db); err != nil {
			return err
		}
		blob, err := protocol.UnpackBlob(db.Blob)
		if err != nil {
			return err
		}
		if err := s.load(context.WithoutCancel(rctx), blob, true); err != nil {
			return err
		}
		s.mu.Lock()
		s.synced = true
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("load host store: %w", err)
	}
	return nil
}

func (s *Session) load(ctx context.Context, blob []byte, splash bool) error {
	if splash && s.loader != nil {
		return s.loader.Load(ctx, blob)
	}
	return s.store.InitializeFromBinary(ctx, blob)
}

// Disconnect leaves the room and closes the relay link. It clears roster and
// presence, stops the cursor broadcast and reinstalls the local channel.
func (s *Session) Disconnect() {
	s.mu.Lock()
	link := s.link
	unsubscribe := s.unsubscribe
	wasConnected := s.state != Disconnected
	s.link = nil
	s.remote = nil
	s.unsubscribe = nil
	s.state = Disconnected
	s.role = RoleNone
	s.self = ""
	s.room = ""
	s.roster = nil
	s.colors = make(map[string]string)
	s.presence = make(map[string]Presence)
	s.synced = false
	s.cursor = nil
	s.lastSent = nil
	if s.stopTicker != nil {
		close(s.stopTicker)
		s.stopTicker = nil
	}
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	// Closing the link first fails in-flight remote calls, which releases
	// the switch for the swap below.
	if link != nil {
		link.Close()
	}
	s.sw.Swap(s.local)

	if wasConnected {
		s.logger.Info("disconnected from relay")
		s.emitStatus()
		s.emitRoster()
		s.emitPresence()
	}
}

// SetCursor records the local cursor; the ticker sends it when it changed.
func (s *Session) SetCursor(x, y float64, node int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = &protocol.Cursor{X: x, Y: y, Node: node}
}

func (s *Session) startTicker(link *transport.Link) {
	stop := make(chan struct{})
	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	s.stopTicker = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.opts.CursorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-link.Done():
				return
			case <-ticker.C:
				s.sendCursorIfChanged(link)
			}
		}
	}()
}

func (s *Session) sendCursorIfChanged(link *transport.Link) {
	s.mu.Lock()
	if s.cursor == nil || (s.lastSent != nil && *s.cursor == *s.lastSent) {
		s.mu.Unlock()
		return
	}
	c := *s.cursor
	s.lastSent = &c
	s.mu.Unlock()

	if err := link.Emit(context.Background(), protocol.UpdateCursor, c); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Debug("send cursor", zap.Error(err))
	}
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role in the joined room.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Self returns the member id the relay assigned, or "".
func (s *Session) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Status returns the state summary sent to the frontend.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state.String(), Role: s.role.String(), Room: s.room, Self: s.self}
}

// Roster returns the room members in join order with their colours.
func (s *Session) Roster() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []Peer {
	peers := make([]Peer, 0, len(s.roster))
	for _, m := range s.roster {
		peers = append(peers, Peer{ID: m.ID, Name: m.Name, Color: s.colors[m.ID], Self: m.ID == s.self})
	}
	return peers
}

// Presence returns the last known cursor of every peer.
func (s *Session) Presence() map[string]Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Presence, len(s.presence))
	for id, p := range s.presence {
		out[id] = p
	}
	return out
}

func (s *Session) emitStatus() {
	s.emitter.Emit(context.Background(), EventState, s.Status())
}

func (s *Session) emitRoster() {
	s.emitter.Emit(context.Background(), EventRoster, s.Roster())
}

func (s *Session) emitPresence() {
	s.emitter.Emit(context.Background(), EventPresence, s.Presence())
}

func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}
