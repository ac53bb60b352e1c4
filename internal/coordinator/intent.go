package coordinator

import (
	"github.com/disconic/disconic/internal/history"
	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

// IntentKind is the command a front-end parsed from user input
type IntentKind int

const (
	IntentJoin IntentKind = iota
	IntentLeave
	IntentSong   // enqueue the best song match for Query
	IntentAlbum  // enqueue every song of the best album match for Query
	IntentRandom // enqueue a random song
	IntentPause
	IntentResume
	IntentSkip
	IntentRemove
	IntentStop
	IntentQueue
	IntentNowPlaying
	IntentHistory
)

var intentNames = map[IntentKind]string{
	IntentJoin:       "join",
	IntentLeave:      "leave",
	IntentSong:       "song",
	IntentAlbum:      "album",
	IntentRandom:     "random",
	IntentPause:      "pause",
	IntentResume:     "resume",
	IntentSkip:       "skip",
	IntentRemove:     "remove",
	IntentStop:       "stop",
	IntentQueue:      "queue",
	IntentNowPlaying: "nowplaying",
	IntentHistory:    "history",
}

func (k IntentKind) String() string {
	if name, ok := intentNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseIntentKind maps a command name back to its kind
func ParseIntentKind(name string) (IntentKind, bool) {
	for k, n := range intentNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Intent is one parsed user command
type Intent struct {
	Kind        IntentKind
	GuildID     string
	ChannelHint string // voice channel the caller is in, if any
	RequestedBy string

	Query    string // song and album searches
	Count    int    // skip
	Position int    // remove, 0-based (0 = current)
	Limit    int    // history
}

// Result describes what a command did, for the front-end to render
type Result struct {
	Kind    IntentKind
	GuildID string

	// Enqueue commands
	Added    []playlist.Entry
	Album    *playlist.Album
	Position int // display position of the last added entry (current = 1)

	Removed *playlist.Entry
	Skipped int

	// Session view after the command ran
	View player.View

	History []history.Play
}
