package player

import (
	"github.com/disconic/disconic/internal/playlist"
)

// PlaybackState represents the current playback state
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// GetState returns the current playback state
func (s *Session) GetState() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View is a consistent snapshot of a session for rendering
type View struct {
	GuildID   string
	ChannelID string
	State     PlaybackState
	Current   *playlist.Entry // nil when the queue is empty
	Pending   []playlist.Entry
}

// Len returns the number of entries including the current one
func (v View) Len() int {
	if v.Current == nil {
		return 0
	}
	return 1 + len(v.Pending)
}

// View returns the current entry and the pending entries in play order
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		GuildID: s.guildID,
		State:   s.state,
	}
	if s.conn != nil {
		v.ChannelID = s.conn.ChannelID()
	}

	entries := s.queue.Snapshot()
	if len(entries) > 0 {
		cur := entries[0]
		v.Current = &cur
		v.Pending = entries[1:]
	}
	return v
}
