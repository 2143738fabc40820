// Package session tracks which open transport owns each MCP session id.
package session

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Transport identifies the kind of connection a session was opened on.
type Transport string

const (
	Streaming Transport = "streaming"
	Legacy    Transport = "legacy"
)

type transportKey struct{}

// WithTransport marks ctx as belonging to a transport kind. The registry hooks
// read it back when the SDK registers a session created under ctx.
func WithTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey{}, t)
}

// TransportFromContext returns the marker set by WithTransport.
func TransportFromContext(ctx context.Context) (Transport, bool) {
	t, ok := ctx.Value(transportKey{}).(Transport)
	return t, ok
}

// Registry maps session ids to the transport that opened them. Entries exist
// only while the connection is open.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Transport
	onChange func(t Transport, active int)
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry logging through logger. onChange, if
// set, is called with the new number of active sessions of a kind after
// every change.
func NewRegistry(logger zerolog.Logger, onChange func(t Transport, active int)) *Registry {
	return &Registry{
		sessions: map[string]Transport{},
		onChange: onChange,
		logger:   logger,
	}
}

// Register records id as owned by t, replacing any previous owner.
func (r *Registry) Register(id string, t Transport) {
	r.mu.Lock()
	prev, existed := r.sessions[id]
	r.sessions[id] = t
	active := r.countLocked(t)
	prevActive := r.countLocked(prev)
	r.mu.Unlock()

	if existed && prev != t {
		r.notify(prev, prevActive)
	}
	r.notify(t, active)
}

// Unregister forgets id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	t, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	active := r.countLocked(t)
	r.mu.Unlock()

	r.notify(t, active)
}

// Lookup returns the transport that owns id.
func (r *Registry) Lookup(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[id]
	return t, ok
}

// Len returns the number of open sessions of kind t.
func (r *Registry) Len(t Transport) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(t)
}

func (r *Registry) countLocked(t Transport) int {
	n := 0
	for _, kind := range r.sessions {
		if kind == t {
			n++
		}
	}
	return n
}

func (r *Registry) notify(t Transport, active int) {
	if r.onChange != nil {
		r.onChange(t, active)
	}
}

// Hooks returns mcp-go hooks that keep the registry in step with the SDK's
// own session bookkeeping. Sessions registered under a context without a
// transport marker are treated as streaming.
func (r *Registry) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, s server.ClientSession) {
		t, ok := TransportFromContext(ctx)
		if !ok {
			t = Streaming
		}
		r.Register(s.SessionID(), t)
		r.logger.Debug().Str("session_id", s.SessionID()).Str("transport", string(t)).Msg("session opened")
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, s server.ClientSession) {
		r.Unregister(s.SessionID())
		r.logger.Debug().Str("session_id", s.SessionID()).Msg("session closed")
	})
	return hooks
}
