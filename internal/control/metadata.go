package control

import (
	"fmt"
	"strings"

	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

// stateName returns the MPD name of a playback state
func stateName(st player.PlaybackState) string {
	switch st {
	case player.StatePlaying:
		return "play"
	case player.StatePaused:
		return "pause"
	default:
		return "stop"
	}
}

// writeEntry writes one queue entry as a song block
func writeEntry(b *strings.Builder, pos int, e playlist.Entry) {
	t := e.Track
	fmt.Fprintf(b, "file: %s\n", t.Locator)
	if t.Title != "" {
		fmt.Fprintf(b, "Title: %s\n", t.Title)
	}
	if t.Artist != "" {
		fmt.Fprintf(b, "Artist: %s\n", t.Artist)
	}
	if t.Album != "" {
		fmt.Fprintf(b, "Album: %s\n", t.Album)
	}
	if t.Duration > 0 {
		fmt.Fprintf(b, "Time: %d\n", int(t.Duration.Seconds()))
		fmt.Fprintf(b, "duration: %.3f\n", t.Duration.Seconds())
	}
	fmt.Fprintf(b, "Pos: %d\n", pos)
	fmt.Fprintf(b, "Id: %s\n", e.ID)
	if e.RequestedBy != "" {
		fmt.Fprintf(b, "RequestedBy: %s\n", e.RequestedBy)
	}
}

// writeView writes the status block of a session
func writeView(b *strings.Builder, v player.View) {
	fmt.Fprintf(b, "guild: %s\n", v.GuildID)
	fmt.Fprintf(b, "channel: %s\n", v.ChannelID)
	fmt.Fprintf(b, "state: %s\n", stateName(v.State))
	fmt.Fprintf(b, "playlistlength: %d\n", v.Len())
}
