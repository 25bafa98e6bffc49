// Package bus connects the transport to the application's message bus.
package bus

import (
	"context"
	"sync"

	"github.com/thrillee/esmelink/internal/message"
)

// Publisher sends data flowing out of the transport.
type Publisher interface {
	PublishInbound(ctx context.Context, msg message.Inbound) error
	PublishEvent(ctx context.Context, ev message.Event) error
}

// HandlerFunc processes one outbound message.
type HandlerFunc func(ctx context.Context, msg message.Outbound) error

// Consumer delivers outbound messages to a handler until ctx is done. It
// waits on gate before taking each message.
type Consumer interface {
	Consume(ctx context.Context, gate *Gate, handle HandlerFunc) error
}

// Gate pauses and resumes consumption. The zero value is not usable; use NewGate.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	g := &Gate{resumed: make(chan struct{})}
	close(g.resumed)
	return g
}

// Pause stops consumers at their next Wait. It reports whether the gate was open.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resumed = make(chan struct{})
	return true
}

// Resume releases waiting consumers. It reports whether the gate was paused.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resumed)
	return true
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.resumed
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
