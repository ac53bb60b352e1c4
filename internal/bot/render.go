package bot

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/disconic/disconic/internal/coordinator"
	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

// Discord rejects messages longer than 2000 characters; long queues are cut
// to this many pending entries
const maxListed = 20

func label(t playlist.Track) string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Title + " - " + t.Artist
}

// Render turns a command result into the reply text
func Render(res coordinator.Result) string {
	switch res.Kind {
	case coordinator.IntentJoin:
		return "Hi! Try '/song' or '/album' to start"
	case coordinator.IntentLeave:
		return "Bye!"
	case coordinator.IntentSong, coordinator.IntentRandom:
		if len(res.Added) == 0 {
			return "Nothing was added"
		}
		msg := fmt.Sprintf("Added **%s** to the queue", label(res.Added[0].Track))
		if res.Position > 1 {
			msg += fmt.Sprintf(" at position %d", res.Position)
		}
		return msg
	case coordinator.IntentAlbum:
		if res.Album == nil {
			return fmt.Sprintf("Added %d songs to the queue", len(res.Added))
		}
		name := res.Album.Name
		if res.Album.Artist != "" {
			name += " - " + res.Album.Artist
		}
		return fmt.Sprintf("Added album **%s** (%d songs) to the queue", name, len(res.Added))
	case coordinator.IntentPause:
		return "Paused playback"
	case coordinator.IntentResume:
		return "Resumed playing"
	case coordinator.IntentStop:
		return "Stopped playing"
	case coordinator.IntentSkip:
		return fmt.Sprintf("%d song(s) skipped", res.Skipped)
	case coordinator.IntentRemove:
		if res.Removed == nil {
			return "Removed track"
		}
		return "Removed track: " + res.Removed.Track.Title
	case coordinator.IntentNowPlaying:
		if res.View.Current == nil {
			return "Not currently playing"
		}
		return "**Currently playing**: " + label(res.View.Current.Track)
	case coordinator.IntentQueue:
		return renderQueue(res)
	case coordinator.IntentHistory:
		return renderHistory(res)
	}
	return "Done"
}

func renderQueue(res coordinator.Result) string {
	v := res.View
	if v.Current == nil {
		return "No songs queued"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Currently playing**: %s", label(v.Current.Track))
	if v.State == player.StatePaused {
		b.WriteString(" (paused)")
	}
	b.WriteString("\n\n")
	if len(v.Pending) == 0 {
		b.WriteString("Nothing else queued")
		return b.String()
	}

	b.WriteString("**Next songs in queue**:\n")
	for i, e := range v.Pending {
		if i == maxListed {
			fmt.Fprintf(&b, "...and %d more\n", len(v.Pending)-maxListed)
			break
		}
		fmt.Fprintf(&b, "**%d.** %s\n", i+2, label(e.Track))
	}
	return b.String()
}

func renderHistory(res coordinator.Result) string {
	if len(res.History) == 0 {
		return "No songs played yet"
	}
	var b strings.Builder
	b.WriteString("**Recently played**:\n")
	for i, p := range res.History {
		line := p.Title
		if p.Artist != "" {
			line += " - " + p.Artist
		}
		if p.RequestedBy != "" {
			line += " (" + p.RequestedBy + ")"
		}
		fmt.Fprintf(&b, "**%d.** %s\n", i+1, line)
	}
	return b.String()
}

// RenderError turns a command failure into the reply text
func RenderError(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) {
		return "Something went wrong"
	}

	switch e.Kind {
	case errs.KindNotInSession:
		return "I'm not in a voice channel. Try '/join' first"
	case errs.KindNoChannel:
		return "You must be in a voice channel to use this command"
	case errs.KindInvalidState:
		switch {
		case strings.HasSuffix(e.Detail, "while stopped"):
			return "Not currently playing"
		case e.Op == "pause":
			return "Already paused"
		case e.Op == "resume":
			return "Already playing"
		}
		return "Can't do that right now: " + e.Detail
	case errs.KindNotFound:
		if e.Op == "remove" || e.Detail == "" {
			return "Song not found"
		}
		return e.Detail
	case errs.KindInvalidArgument:
		return "Invalid command: " + e.Detail
	case errs.KindTransport:
		return "Voice connection problem, please try again"
	}
	return "Something went wrong"
}
