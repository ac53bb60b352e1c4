package bot

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/disconic/disconic/internal/coordinator"
	"github.com/disconic/disconic/internal/errs"
)

const maxHistory = 50

var minOne = float64(1)

// Commands returns the slash commands the bot registers
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "join", Description: "Join the voice chat where the caller is"},
		{Name: "leave", Description: "Leave the voice channel and clear the queue"},
		{
			Name:        "song",
			Description: "Search for a song, and queue it",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "What to search for",
				Required:    true,
			}},
		},
		{
			Name:        "album",
			Description: "Search for an album, and queue all its songs",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "What to search for",
				Required:    true,
			}},
		},
		{Name: "random", Description: "Play a random song"},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
		{
			Name:        "skip",
			Description: "Skip song(s)",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "Number of songs to skip",
				MinValue:    &minOne,
			}},
		},
		{
			Name:        "remove",
			Description: "Remove song from queue",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "position",
				Description: "Song position on the queue (1 is the current song)",
				Required:    true,
				MinValue:    &minOne,
			}},
		},
		{Name: "stop", Description: "Stop playing and clear the queue"},
		{Name: "queue", Description: "Get play queue list"},
		{Name: "nowplaying", Description: "Show what's currently playing"},
		{
			Name:        "history",
			Description: "Show recently played songs",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: "How many songs to list",
				MinValue:    &minOne,
				MaxValue:    maxHistory,
			}},
		},
	}
}

// Text command aliases
var aliases = map[string]string{
	"s":    "song",
	"p":    "song",
	"play": "song",
	"np":   "nowplaying",
	"q":    "queue",
}

// args are the raw command arguments, before they are given meaning
type args struct {
	text   string
	number int
	hasNum bool
}

// IntentFromCommand builds the intent for a slash command invocation.
// Guild, channel and requester are filled in by the caller.
func IntentFromCommand(data discordgo.ApplicationCommandInteractionData) (coordinator.Intent, error) {
	var a args
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			if v, ok := opt.Value.(string); ok {
				a.text = v
			}
		case discordgo.ApplicationCommandOptionInteger:
			if v, ok := opt.Value.(float64); ok {
				a.number, a.hasNum = int(v), true
			}
		}
	}
	return buildIntent(data.Name, a)
}

// ParseText splits a prefixed chat message into command name and argument
// text. ok is false when the message is not addressed to the bot.
func ParseText(prefix, content string) (name, rest string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimSpace(content[len(prefix):]), " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if full, found := aliases[name]; found {
		name = full
	}
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return name, rest, true
}

// IntentFromText builds the intent for a text command
func IntentFromText(name, rest string) (coordinator.Intent, error) {
	a := args{text: rest}
	switch name {
	case "skip", "remove", "history":
		if rest != "" {
			n, err := strconv.Atoi(rest)
			if err != nil {
				return coordinator.Intent{}, errs.Newf(errs.KindInvalidArgument, name, "%q is not a number", rest)
			}
			a.number, a.hasNum = n, true
		}
	}
	return buildIntent(name, a)
}

func buildIntent(name string, a args) (coordinator.Intent, error) {
	kind, ok := coordinator.ParseIntentKind(name)
	if !ok {
		return coordinator.Intent{}, errs.Newf(errs.KindInvalidArgument, name, "unknown command %q", name)
	}
	in := coordinator.Intent{Kind: kind}

	switch kind {
	case coordinator.IntentSong, coordinator.IntentAlbum:
		in.Query = a.text
	case coordinator.IntentSkip:
		in.Count = 1
		if a.hasNum {
			in.Count = a.number
		}
	case coordinator.IntentRemove:
		if !a.hasNum {
			return coordinator.Intent{}, errs.New(errs.KindInvalidArgument, name, "a queue position is required")
		}
		if a.number < 1 {
			return coordinator.Intent{}, errs.Newf(errs.KindInvalidArgument, name, "queue positions start at 1, got %d", a.number)
		}
		// Displayed positions count the current song as 1
		in.Position = a.number - 1
	case coordinator.IntentHistory:
		if a.hasNum {
			in.Limit = a.number
		}
	}
	return in, nil
}
