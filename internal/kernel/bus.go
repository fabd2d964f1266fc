package kernel

import (
	"sync"

	"github.com/relkit/relkit/pkg/types"
)

// SignalBus fans emitted signals out to subscribers and retains a bounded
// in-memory history. Signals are observations, not commands: subscribers
// (expression protocols, the websocket hub) decide how to respond.
type SignalBus struct {
	mu           sync.RWMutex
	subscribers  map[int]func(types.Signal)
	nextID       int
	history      []types.Signal
	historyLimit int
}

// NewSignalBus creates a bus retaining at most historyLimit signals.
// A limit of 0 disables history.
func NewSignalBus(historyLimit int) *SignalBus {
	return &SignalBus{
		subscribers:  make(map[int]func(types.Signal)),
		historyLimit: historyLimit,
	}
}

// Subscribe registers a callback for every emitted signal and returns an
// unsubscribe function. Callbacks run synchronously on the emitting
// goroutine; long-running subscribers should hand off to their own worker.
func (b *SignalBus) Subscribe(fn func(types.Signal)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Emit records the signal in history and delivers it to all subscribers.
func (b *SignalBus) Emit(signal types.Signal) {
	b.mu.Lock()
	if b.historyLimit > 0 {
		b.history = append(b.history, signal)
		if len(b.history) > b.historyLimit {
			b.history = b.history[len(b.history)-b.historyLimit:]
		}
	}
	fns := make([]func(types.Signal), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	// Deliver outside the lock so a subscriber calling back into the bus
	// cannot deadlock.
	for _, fn := range fns {
		fn(signal)
	}
}

// History returns a copy of the retained signal history, oldest first.
func (b *SignalBus) History() []types.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.Signal, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryFor returns the retained signals for a single relationship id,
// oldest first.
func (b *SignalBus) HistoryFor(relationID string) []types.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Signal
	for _, sig := range b.history {
		if sig.RelationID == relationID {
			out = append(out, sig)
		}
	}
	return out
}
