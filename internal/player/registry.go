package player

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/errs"
)

// maxJoinAttempts bounds how often GetOrCreate retries when the session it
// acquired was closed before it could join.
const maxJoinAttempts = 3

// Registry maps guild IDs to their voice session. It holds at most one live
// session per guild. The map lock guards only insert, lookup and removal and
// is never held across transport I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	transport     backends.Transport
	logger        *zap.Logger
	sessionLogger *zap.Logger

	subMu       sync.RWMutex
	subscribers []Notifier
}

// NewRegistry creates an empty registry whose sessions connect through transport
func NewRegistry(transport backends.Transport, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		transport:     transport,
		logger:        logger.Named("registry"),
		sessionLogger: logger.Named("session"),
	}
}

// Subscribe registers fn for the events of every session, present and future.
// fn runs under the emitting session's lock and must not block.
func (r *Registry) Subscribe(fn Notifier) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) publish(ev Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, fn := range r.subscribers {
		fn(ev)
	}
}

// Acquire returns the session for guildID, creating an unconnected one if
// none exists. Concurrent callers for the same guild get the same instance.
func (r *Registry) Acquire(guildID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s = NewSession(guildID, r.transport, r.sessionLogger, r.publish, r.release)
	r.sessions[guildID] = s
	r.logger.Debug("Created session", zap.String("guild", guildID))
	return s
}

// GetOrCreate returns the connected session for guildID, joining channelID
// if the guild has no session yet.
func (r *Registry) GetOrCreate(ctx context.Context, guildID, channelID string) (*Session, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		s := r.Acquire(guildID)
		err := s.Join(ctx, channelID)
		if errors.Is(err, ErrSessionClosed) {
			// Left or disconnected between Acquire and Join
			continue
		}
		if err != nil {
			return nil, errs.WithGuild(err, guildID)
		}
		return s, nil
	}
	return nil, errs.WithGuild(errs.New(errs.KindTransport, "join", "session kept closing while joining"), guildID)
}

// Get returns the session for guildID without creating one
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove drops the session for guildID. It does not close it.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, guildID)
}

// release is called by a session on teardown, with the session lock held.
// It only removes s itself, never a successor registered under the same guild.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.guildID]; ok && cur == s {
		delete(r.sessions, s.guildID)
		r.logger.Debug("Released session", zap.String("guild", s.guildID))
	}
}

// Sessions returns the connected sessions ordered by guild ID. A session
// still joining its first channel is left out.
func (r *Registry) Sessions() []*Session {
	all := r.all()
	out := all[:0]
	for _, s := range all {
		if s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

// all returns every registered session ordered by guild ID, joining or not
func (r *Registry) all() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].guildID < out[j].guildID })
	return out
}

// Len returns the number of registered sessions, including those still
// joining
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown leaves every session
func (r *Registry) Shutdown() {
	for _, s := range r.all() {
		if err := s.Leave(); err != nil {
			r.logger.Warn("Failed to leave session during shutdown",
				zap.String("guild", s.guildID), zap.Error(err))
		}
	}
}
