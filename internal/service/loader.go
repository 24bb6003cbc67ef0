package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ─────────────────────────────────────────────────────────────
// Loader: splash-mediated store replacement
// ─────────────────────────────────────────────────────────────

// SplashView is the placeholder view shown while a store is swapped in.
const SplashView = "splash"

const (
	// DefaultSplashSettle is the pause after the transition to the splash
	// view ends and before the store is replaced.
	DefaultSplashSettle = 100 * time.Millisecond
	// transitionTimeout bounds the wait for a frontend that never reports
	// the end of its transition.
	transitionTimeout = 2 * time.Second
)

// Presenter switches the visible view. The frontend reports the end of a
// view transition through Loader.TransitionEnd.
type Presenter interface {
	CurrentView() string
	SetView(ctx context.Context, view string)
}

// StoreLoader replaces the store contents.
type StoreLoader interface {
	InitializeFromBinary(ctx context.Context, blob []byte) error
}

// Loader loads a store without ever showing a half-loaded graph: it moves to
// the splash view, waits for the transition to finish plus a settle delay,
// loads the store and the default selection, then restores the previous view.
type Loader struct {
	store       StoreLoader
	selection   *Selection
	presenter   Presenter
	settle      time.Duration
	transitions chan struct{}
	logger      *zap.Logger
}

// NewLoader creates a loader. selection may be nil.
func NewLoader(store StoreLoader, selection *Selection, presenter Presenter, settle time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settle <= 0 {
		settle = DefaultSplashSettle
	}
	return &Loader{
		store:       store,
		selection:   selection,
		presenter:   presenter,
		settle:      settle,
		transitions: make(chan struct{}, 1),
		logger:      logger,
	}
}

// TransitionEnd signals that the frontend finished a view transition.
func (l *Loader) TransitionEnd() {
	select {
	case l.transitions <- struct{}{}:
	default:
	}
}

// Load replaces the store with blob behind the splash view.
func (l *Loader) Load(ctx context.Context, blob []byte) error {
	return l.Run(ctx, func(ctx context.Context) error {
		return l.store.InitializeFromBinary(ctx, blob)
	})
}

// Run executes load behind the splash view and selects the latest field node
// once it succeeds. The previous view is restored on every path.
func (l *Loader) Run(ctx context.Context, load func(ctx context.Context) error) error {
	if l.presenter == nil {
		return l.loadAndSelect(ctx, load)
	}

	prev := l.presenter.CurrentView()
	select {
	case <-l.transitions:
	default:
	}
	l.presenter.SetView(ctx, SplashView)
	defer l.presenter.SetView(ctx, prev)

	timer := time.NewTimer(transitionTimeout)
	defer timer.Stop()
	select {
	case <-l.transitions:
	case <-timer.C:
		l.logger.Warn("no transition end from the view, loading anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-time.After(l.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.loadAndSelect(ctx, load)
}

func (l *Loader) loadAndSelect(ctx context.Context, load func(ctx context.Context) error) error {
	if err := load(ctx); err != nil {
		return err
	}
	if l.selection == nil {
		return nil
	}
	return l.selection.SelectLatest(ctx)
}
