package shell

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dospill/internal/app/user"
	"dospill/internal/pkg/logx"
)

// Hub tracks every live session so they can be closed together on shutdown.
type Hub struct {
	deps Deps

	// sessions by id; nil after Shutdown.
	sessions map[string]*hubEntry

	mu sync.RWMutex

	logger zerolog.Logger
}

type hubEntry struct {
	session *Session
	out     Outbox
}

// NewHub returns an empty hub whose sessions use deps.
func NewHub(deps Deps) *Hub {
	return &Hub{
		deps:     deps,
		sessions: make(map[string]*hubEntry),
		logger:   logx.Component("hub"),
	}
}

// Open creates and registers a session. It returns nil once the hub is shut down.
func (h *Hub) Open(id string, identity user.Identity, out Outbox) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions == nil {
		return nil
	}

	s := NewSession(id, identity, h.deps, out)
	h.sessions[id] = &hubEntry{session: s, out: out}

	h.logger.Info().Str("session_id", id).Str("role", identity.Role).Int("live", len(h.sessions)).Msg("Session opened")
	return s
}

// Remove closes and forgets the session with id.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	e, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	live := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}
	e.session.Close()
	h.logger.Info().Str("session_id", id).Int("live", live).Msg("Session removed")
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session with a going-away close frame.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down shell hub...")

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = nil
	h.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
		e.out.Close(websocket.CloseGoingAway, "server shutting down")
	}

	h.logger.Info().Int("closed", len(sessions)).Msg("Shell hub shutdown complete.")
}
