package collab

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fumen/internal/protocol"
	"fumen/internal/storage"
	"fumen/internal/transport"
)

// registerHandlers wires every inbound message. Handlers run on the link's
// read loop, one at a time, in the order the relay sent the frames.
func (s *Session) registerHandlers(link *transport.Link) {
	link.OnEvent(protocol.SomeoneJoinRoom, s.onRosterChange)
	link.OnEvent(protocol.SomeoneLeaveRoom, s.onRosterChange)
	link.OnEvent(protocol.CursorBatch, s.onCursors)
	link.OnEvent(protocol.HostLeft, func(protocol.Frame) {
		s.logger.Info("host left the room")
		s.emitter.Emit(context.Background(), EventHostLeft, nil)
		// Disconnect waits for in-flight mutations, which may be waiting on
		// this very read loop.
		go s.Disconnect()
	})

	// Guest side: changes the host committed.
	link.OnEvent(protocol.NodeApplied, s.onNodeApplied)
	link.OnEvent(protocol.DBApplied, s.onDBApplied)

	// Host side: requests guests sent through the relay.
	link.OnRequest(protocol.CreateNode, s.hostOnly(s.serveCreate))
	link.OnRequest(protocol.UpdateNode, s.hostOnly(s.serveUpdate))
	link.OnRequest(protocol.UpdateDB, s.hostOnly(s.serveUpdateDB))
	link.OnRequest(protocol.RequestDB, s.hostOnly(s.serveRequestDB))
}

func (s *Session) onRosterChange(f protocol.Frame) {
	var change protocol.RosterChange
	if err := f.Decode(&change); err != nil {
		s.logger.Warn("bad roster change", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.roster = change.Members
	s.colors = assignColors(change.Members, s.self)
	if f.Event == protocol.SomeoneLeaveRoom {
		delete(s.presence, change.Member.ID)
	}
	for id, p := range s.presence {
		p.Color = s.colors[id]
		s.presence[id] = p
	}
	s.mu.Unlock()
	s.emitRoster()
	s.emitPresence()
}

func (s *Session) onCursors(f protocol.Frame) {
	var batch protocol.Cursors
	if err := f.Decode(&batch); err != nil {
		s.logger.Warn("bad cursor batch", zap.Error(err))
		return
	}
	s.mu.Lock()
	changed := false
	for _, pc := range batch.Cursors {
		if pc.ID == s.self {
			continue
		}
		color, member := s.colors[pc.ID]
		if !member {
			continue
		}
		s.presence[pc.ID] = Presence{X: pc.Cursor.X, Y: pc.Cursor.Y, Node: pc.Cursor.Node, Color: color}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.emitPresence()
	}
}

// guestReady reports whether host changes should be applied: only a guest
// whose initial store transfer is done. Earlier changes are part of the
// transferred store already.
func (s *Session) guestReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role == RoleGuest && s.synced
}

func (s *Session) onNodeApplied(f protocol.Frame) {
	if !s.guestReady() {
		return
	}
	var applied protocol.Applied
	if err := f.Decode(&applied); err != nil {
		s.logger.Warn("bad node_applied", zap.Error(err))
		return
	}
	n, err := protocol.DecodeNode(applied.Node)
	if err != nil {
		s.logger.Warn("bad node_applied node", zap.Error(err))
		return
	}
	ctx := context.Background()
	switch applied.Op {
	case protocol.OpCreated:
		_, err = s.store.CreateNode(ctx, n)
	case protocol.OpUpdated:
		err = s.store.UpdateNode(ctx, n)
	case protocol.OpDeleted:
		err = s.store.DeleteNode(ctx, n)
	default:
		err = fmt.Errorf("unknown op %q", applied.Op)
	}
	if err != nil {
		s.logger.Warn("apply host change", zap.String("op", applied.Op), zap.Error(err))
	}
}

func (s *Session) onDBApplied(f protocol.Frame) {
	if !s.guestReady() {
		return
	}
	var db protocol.DB
	if err := f.Decode(&db); err != nil {
		s.logger.Warn("bad db_applied", zap.Error(err))
		return
	}
	blob, err := protocol.UnpackBlob(db.Blob)
	if err != nil {
		s.logger.Warn("bad db_applied blob", zap.Error(err))
		return
	}
	if err := s.load(context.Background(), blob, db.Splash); err != nil {
		s.logger.Warn("apply host store", zap.Error(err))
	}
}

func (s *Session) hostOnly(h transport.RequestHandler) transport.RequestHandler {
	return func(f protocol.Frame, reply transport.Reply) {
		if s.Role() != RoleHost {
			_ = reply(nil, fmt.Errorf("%s: not the room host", f.Event))
			return
		}
		h(f, reply)
	}
}

// The host answers relayed mutations through storage.AfterCommit, so an
// acknowledgement leaves in commit order with the publications and cannot be
// overtaken by a later change to the same node.

func (s *Session) serveCreate(f protocol.Frame, reply transport.Reply) {
	n, err := protocol.DecodeNode(f.Body)
	if err != nil {
		_ = reply(nil, err)
		return
	}
	ctx := storage.AfterCommit(storage.WithOrigin(context.Background(), f.Origin), func(ev storage.Event) {
		raw, err := protocol.EncodeNode(ev.Node)
		_ = reply(raw, err)
	})
	if _, err := s.store.CreateNode(ctx, n); err != nil {
		_ = reply(nil, err)
	}
}

func (s *Session) serveUpdate(f protocol.Frame, reply transport.Reply) {
	n, err := protocol.DecodeNode(f.Body)
	if err != nil {
		_ = reply(nil, err)
		return
	}
	ctx := storage.AfterCommit(storage.WithOrigin(context.Background(), f.Origin), func(storage.Event) {
		_ = reply(f.Body, nil)
	})
	if err := s.store.UpdateNode(ctx, n); err != nil {
		_ = reply(nil, err)
	}
}

func (s *Session) serveUpdateDB(f protocol.Frame, reply transport.Reply) {
	var db protocol.DB
	if err := f.Decode(&db); err != nil {
		_ = reply(nil, err)
		return
	}
	blob, err := protocol.UnpackBlob(db.Blob)
	if err != nil {
		_ = reply(nil, err)
		return
	}
	ctx := storage.AfterCommit(storage.WithOrigin(context.Background(), f.Origin), func(storage.Event) {
		_ = reply(db, nil)
	})
	if err := s.load(ctx, blob, db.Splash); err != nil {
		_ = reply(nil, err)
	}
}

// serveRequestDB answers from the store's notification goroutine, after every
// change committed before the export has been published, so the joiner gets
// exactly the changes its snapshot lacks.
func (s *Session) serveRequestDB(f protocol.Frame, reply transport.Reply) {
	err := s.store.ExportWith(context.Background(), func(blob []byte) {
		if err := reply(protocol.DB{Blob: protocol.PackBlob(blob)}, nil); err != nil {
			s.logger.Debug("answer request_db", zap.Error(err))
		}
	})
	if err != nil {
		_ = reply(nil, err)
	}
}

// publish forwards one committed store change to the room.
func (s *Session) publish(link *transport.Link, ev storage.Event) {
	var (
		event string
		body  any
	)
	switch ev.Op {
	case storage.OpCreated, storage.OpUpdated, storage.OpDeleted:
		node := ev.Node
		if node == nil {
			return
		}
		raw, err := protocol.EncodeNode(node.WithID(ev.ID))
		if err != nil {
			s.logger.Warn("encode published node", zap.Error(err))
			return
		}
		event, body = protocol.NodeApplied, protocol.Applied{Op: appliedOp(ev.Op), Node: raw}
	case storage.OpLoaded:
		if ev.Blob == nil {
			return
		}
		event, body = protocol.DBApplied, protocol.DB{Blob: protocol.PackBlob(ev.Blob), Splash: true}
	default:
		return
	}

	raw, err := protocol.EncodeBody(body)
	if err != nil {
		s.logger.Warn("encode publication", zap.Error(err))
		return
	}
	pub := protocol.Publication{Origin: ev.Origin, Event: event, Body: raw}
	if err := link.Emit(context.Background(), protocol.Publish, pub); err != nil {
		s.logger.Debug("publish", zap.String("event", event), zap.Error(err))
	}
}

func appliedOp(op storage.Op) string {
	switch op {
	case storage.OpCreated:
		return protocol.OpCreated
	case storage.OpDeleted:
		return protocol.OpDeleted
	default:
		return protocol.OpUpdated
	}
}
