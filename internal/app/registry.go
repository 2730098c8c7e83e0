package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerline/internal/core"
	"github.com/dkeye/peerline/internal/domain"
)

var ErrIDTaken = errors.New("id is taken")

type sessionEntry struct {
	Session  core.PeerSession
	Cancel   context.CancelFunc
	LastSeen time.Time
}

// Registry maps claimed peer identifiers to their signaling sessions.
type Registry struct {
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:    clk,
		sessions: make(map[domain.PeerID]*sessionEntry),
	}
}

// Claim binds sess to its identifier unless another session holds it.
func (r *Registry) Claim(sess core.PeerSession, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID()]; ok {
		log.Warn().Str("module", "app.registry").Str("peer_id", string(sess.ID())).Msg("id taken")
		return ErrIDTaken
	}
	r.sessions[sess.ID()] = &sessionEntry{Session: sess, Cancel: cancel, LastSeen: r.clock.Now()}
	log.Info().Str("module", "app.registry").Str("peer_id", string(sess.ID())).Str("sid", string(sess.Token())).Msg("bound peer")
	return nil
}

// Release unbinds id if it is still held by sess.
func (r *Registry) Release(id domain.PeerID, sess core.PeerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("peer_id", string(id)).Msg("unbind peer")
	return true
}

func (r *Registry) GetSession(id domain.PeerID) (core.PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

// Touch records liveness for id.
func (r *Registry) Touch(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.LastSeen = r.clock.Now()
	}
}

// Stale lists peers not seen within window.
func (r *Registry) Stale(window time.Duration) []domain.PeerID {
	cutoff := r.clock.Now().Add(-window)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.PeerID
	for id, e := range r.sessions {
		if e.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the online peers ordered by identifier.
func (r *Registry) Snapshot() []core.PeerDTO {
	r.mu.RLock()
	out := make([]core.PeerDTO, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, core.PeerDTO{ID: id, Since: e.Session.Since()})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.PeerDTO) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer_id", string(id)).Msg("canceled session")
	return true
}
