package control

import (
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/player"
)

// idleConnection represents a connection waiting in idle mode
type idleConnection struct {
	subsystems map[string]bool // Subsystems to watch (empty = all)
	guildID    string          // Only this guild's changes (empty = all)
	notify     chan player.Event
	cancel     chan struct{} // Closed to end the wait without a change
	cancelled  bool
}

// registerIdle registers an idle connection to receive notifications
func (s *Server) registerIdle(idle *idleConnection) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.idleConns[idle] = true
	s.logger.Debug("Registered idle connection", zap.Int("total", len(s.idleConns)))
}

// unregisterIdle removes an idle connection from notifications
func (s *Server) unregisterIdle(idle *idleConnection) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	delete(s.idleConns, idle)
}

// cancelIdle ends every idle wait
func (s *Server) cancelIdle() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	for idle := range s.idleConns {
		if !idle.cancelled {
			idle.cancelled = true
			close(idle.cancel)
		}
	}
}

// NotifySubsystemChange wakes idle connections watching ev's subsystem.
// It runs under the emitting session's lock, so it never blocks.
func (s *Server) NotifySubsystemChange(ev player.Event) {
	s.idleMu.RLock()
	defer s.idleMu.RUnlock()

	for idle := range s.idleConns {
		if idle.guildID != "" && idle.guildID != ev.GuildID {
			continue
		}
		if len(idle.subsystems) > 0 && !idle.subsystems[string(ev.Subsystem)] {
			continue
		}
		select {
		case idle.notify <- ev:
		default:
			s.logger.Debug("Idle notification channel full")
		}
	}
}
