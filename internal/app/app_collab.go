package app

// ─────────────────────────────────────────────────────────────
// Collaboration Handlers: thin delegates to collab.Session
// ─────────────────────────────────────────────────────────────

import (
	"fumen/internal/collab"
)

// Connect dials the relay at addr, or the configured relay when addr is
// empty.
func (a *App) Connect(addr string) error {
	if addr == "" {
		addr = a.cfg.Relay.Address
	}
	return a.session.Connect(a.ctx, addr)
}

func (a *App) JoinRoom(room, user string) error {
	return a.session.JoinRoom(a.ctx, room, user)
}

func (a *App) Disconnect() {
	a.session.Disconnect()
}

func (a *App) SetCursor(x, y float64, node int64) {
	a.session.SetCursor(x, y, node)
}

func (a *App) CollabStatus() collab.Status {
	return a.session.Status()
}

func (a *App) Roster() []collab.Peer {
	return a.session.Roster()
}

func (a *App) Presence() map[string]collab.Presence {
	return a.session.Presence()
}
