package artifact

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LoadFunc produces a validated bundle.
type LoadFunc func(ctx context.Context) (*Bundle, error)

type gateState struct {
	bundle *Bundle
	err    error
}

// Gate is the one-time initialization barrier every scan awaits. A failed
// initial load is sticky: Wait keeps returning ErrNotReady until Reload
// succeeds. There is no automatic retry.
type Gate struct {
	load    LoadFunc
	log     zerolog.Logger
	once    sync.Once
	done    chan struct{}
	state   atomic.Pointer[gateState]
	reloads sync.Mutex
}

// NewGate wraps load. Nothing happens until Start or Wait is called.
func NewGate(load LoadFunc, log zerolog.Logger) *Gate {
	return &Gate{
		load: load,
		log:  log.With().Str("component", "artifact_gate").Logger(),
		done: make(chan struct{}),
	}
}

// Ready returns a gate that is already initialized with b.
func Ready(b *Bundle) *Gate {
	g := NewGate(func(context.Context) (*Bundle, error) { return b, nil }, zerolog.Nop())
	g.state.Store(&gateState{bundle: b})
	g.once.Do(func() {})
	close(g.done)
	return g
}

// Start launches the initial load in the background. Only the first call
// has an effect.
func (g *Gate) Start(ctx context.Context) {
	g.once.Do(func() {
		go func() {
			defer close(g.done)
			b, err := g.load(ctx)
			if err != nil {
				g.log.Error().Err(err).Msg("artifact initialization failed; scanning disabled until reload")
				g.state.Store(&gateState{err: err})
				return
			}
			g.state.Store(&gateState{bundle: b})
			g.log.Info().Msg("artifacts ready")
		}()
	})
}

// Wait blocks until the initial load has finished and returns the current
// snapshot. Only the caller's ctx can cut the wait short.
func (g *Gate) Wait(ctx context.Context) (*Bundle, error) {
	g.Start(context.WithoutCancel(ctx))
	select {
	case <-g.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	st := g.state.Load()
	if st.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, st.err)
	}
	return st.bundle, nil
}

// Status reports the gate state without blocking. pending is true while
// the initial load is still running.
func (g *Gate) Status() (pending bool, err error) {
	select {
	case <-g.done:
	default:
		return true, nil
	}
	if st := g.state.Load(); st.err != nil {
		return false, st.err
	}
	return false, nil
}

// Reload loads a fresh bundle and swaps it in. When the reload fails, a
// previously valid snapshot stays in service; a previously failed gate
// stays failed with the new error.
func (g *Gate) Reload(ctx context.Context) error {
	g.reloads.Lock()
	defer g.reloads.Unlock()

	g.Start(context.WithoutCancel(ctx))
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	b, err := g.load(ctx)
	if err != nil {
		if g.state.Load().bundle == nil {
			g.state.Store(&gateState{err: err})
		}
		g.log.Error().Err(err).Msg("artifact reload failed")
		return err
	}
	g.state.Store(&gateState{bundle: b})
	g.log.Info().Msg("artifacts reloaded")
	return nil
}
