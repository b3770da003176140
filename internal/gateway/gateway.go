// Package gateway exposes a running session to remote controllers and
// enforces the single-active-controller rule: a new controller always
// wins, and the previous one is told why it lost the session.
package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/certrig/certrig/internal/session"
)

// DefaultBlasterTimeout bounds how long a handover waits for the old
// controller to acknowledge its preemption notice before the connection
// is closed regardless.
const DefaultBlasterTimeout = time.Second

// Conn is one controller connection, as the gateway sees it.
type Conn interface {
	RemoteAddr() string
	Close() error
}

// Blaster notifies a controller that it is being preempted. It returns
// once the controller has acknowledged the notice.
type Blaster func(reason string) error

// Gateway tracks the controlling connection for a session. All state
// transitions happen under one mutex, so connect, disconnect and
// handover are serialized.
type Gateway struct {
	logger         *slog.Logger
	blasterTimeout time.Duration

	mu          sync.Mutex
	assistant   *session.Assistant
	controlling Conn
	blaster     Blaster
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBlasterTimeout overrides the preemption acknowledgement timeout.
func WithBlasterTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.blasterTimeout = d }
}

// New creates a Gateway for the given session.
func New(logger *slog.Logger, assistant *session.Assistant, opts ...Option) *Gateway {
	g := &Gateway{
		logger:         logger,
		assistant:      assistant,
		blasterTimeout: DefaultBlasterTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Assistant returns the session this gateway serves. May be nil when the
// agent is idle.
func (g *Gateway) Assistant() *session.Assistant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.assistant
}

// SetAssistant swaps the served session.
func (g *Gateway) SetAssistant(a *session.Assistant) {
	g.mu.Lock()
	g.assistant = a
	g.mu.Unlock()
}

// Controlling returns the current controlling connection, or nil.
func (g *Gateway) Controlling() Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controlling
}

// OnConnect installs conn as the controlling connection. If another
// controller holds the session it is preempted first: its registered
// blaster gets a bounded chance to deliver the reason, then the old
// connection is closed either way.
func (g *Gateway) OnConnect(conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old := g.controlling; old != nil {
		reason := fmt.Sprintf("Forcefully disconnected by new controller from %s", conn.RemoteAddr())
		g.preemptLocked(old, reason)
	}
	g.controlling = conn
	g.blaster = nil
	g.logger.Info("controller connected", "remote", conn.RemoteAddr())
}

func (g *Gateway) preemptLocked(old Conn, reason string) {
	if g.blaster != nil {
		done := make(chan error, 1)
		blaster := g.blaster
		go func() { done <- blaster(reason) }()
		select {
		case err := <-done:
			if err != nil {
				g.logger.Warn("preemption notice failed", "remote", old.RemoteAddr(), "error", err)
			}
		case <-time.After(g.blasterTimeout):
			g.logger.Warn("preemption notice timed out", "remote", old.RemoteAddr())
		}
	}
	if err := old.Close(); err != nil {
		g.logger.Debug("closing preempted controller", "remote", old.RemoteAddr(), "error", err)
	}
	g.logger.Info("controller preempted", "remote", old.RemoteAddr())
}

// OnDisconnect clears the controlling connection, but only if conn still
// holds it. A preempted controller's late disconnect must not evict its
// successor.
func (g *Gateway) OnDisconnect(conn Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.controlling != conn {
		return
	}
	g.controlling = nil
	g.blaster = nil
	g.logger.Info("controller disconnected", "remote", conn.RemoteAddr())
}

// RegisterBlaster attaches a preemption notifier for conn. Ignored when
// conn is not the controlling connection.
func (g *Gateway) RegisterBlaster(conn Conn, blaster Blaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.controlling != conn {
		return
	}
	g.blaster = blaster
}
