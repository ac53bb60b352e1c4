package player

import (
	"github.com/disconic/disconic/internal/playlist"
)

// Subsystem names a part of a session that changed, after the MPD idle
// subsystems ("player", "playlist") plus the session lifecycle.
type Subsystem string

const (
	SubsystemPlayer   Subsystem = "player"   // playback state or current track changed
	SubsystemPlaylist Subsystem = "playlist" // queue contents changed
	SubsystemSession  Subsystem = "session"  // joined or torn down
)

// Event is published after every session change.
type Event struct {
	GuildID   string
	Subsystem Subsystem
	State     PlaybackState
	Started   *playlist.Entry // set when a track started streaming
	Closed    bool            // set when the session was torn down
}

// Notifier receives session events. It is called with the session lock held
// and must not block or call back into the session.
type Notifier func(Event)
