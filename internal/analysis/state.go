package analysis

import (
	"context"

	"github.com/tphakala/coughdetect/internal/logger"
)

// State is the engine state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	// StateProcessing is held while a window is being classified
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func allStates() []string {
	return []string{
		StateIdle.String(),
		StateRecording.String(),
		StatePaused.String(),
		StateProcessing.String(),
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(s)
}

// transition moves from one state to another only when the engine is in
// from. Caller must not hold e.mu.
func (e *Engine) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.setStateLocked(to)
	return true
}

// setStateLocked updates the state and notifies subscribers. Caller holds e.mu.
func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.state = s
	e.metrics.SetEngineState(s.String(), allStates()...)
	GetLogger().Debug("engine state changed", logger.String("state", s.String()))

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subscribers {
		offerState(ch, s)
	}
}

// Subscribe returns a channel receiving the current state followed by every
// state change. A slow reader only sees the latest state. The channel is
// closed when ctx is done or the engine is closed.
func (e *Engine) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	e.mu.Lock()
	ch <- e.state
	e.subMu.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMu.Unlock()
	e.mu.Unlock()

	context.AfterFunc(ctx, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
	})
	return ch
}

// offerState delivers s, replacing an unread older state.
func offerState(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
