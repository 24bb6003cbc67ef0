package service

import (
	"context"
	"sync"
)

// Background job names.
const (
	jobThumbnails = "thumbnails"
	JobAutosave   = "autosave"
)

// ─────────────────────────────────────────────────────────────
// JobGuard: one run per job name at a time
// ─────────────────────────────────────────────────────────────

// JobGuard keeps a second run of a named job from starting while the first
// is still going, and lets shutdown wait for running jobs.
type JobGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks job as running. It returns false if it already is.
func (g *JobGuard) TryLock(job string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[job]; ok {
		return false
	}
	g.running[job] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock marks job as finished. Call it once per successful TryLock.
func (g *JobGuard) Unlock(job string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, job)
	g.wg.Done()
}

// WaitAll blocks until every running job is done or ctx ends.
func (g *JobGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
