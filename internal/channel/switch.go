package channel

import (
	"context"
	"sync"

	"fumen/internal/domain"
)

type retirer interface {
	Retire()
}

// Switch holds the one active channel. Mutations hold a read lock while they
// run; Swap takes the write lock, so it waits for in-flight mutations and a
// mutation never sees a channel that is half set up.
type Switch struct {
	mu     sync.RWMutex
	active Channel
}

// NewSwitch returns a switch with initial active.
func NewSwitch(initial Channel) *Switch {
	return &Switch{active: initial}
}

// Active returns the current channel.
func (s *Switch) Active() Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Swap installs next and returns the previous channel, which is retired when
// it supports retirement.
func (s *Switch) Swap(next Channel) Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = next
	if r, ok := prev.(retirer); ok && prev != next {
		r.Retire()
	}
	return prev
}

func (s *Switch) LoadStore(ctx context.Context, blob []byte, splash bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.LoadStore(ctx, blob, splash)
}

func (s *Switch) CreateNode(ctx context.Context, n domain.Node) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.CreateNode(ctx, n)
}

func (s *Switch) UpdateNode(ctx context.Context, n domain.Node) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.UpdateNode(ctx, n)
}

func (s *Switch) DeleteNode(ctx context.Context, n domain.Node) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.DeleteNode(ctx, n)
}
