package bot

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconic/disconic/internal/coordinator"
	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/history"
	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

func TestCommandsCoverEveryIntent(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range Commands() {
		_, ok := coordinator.ParseIntentKind(cmd.Name)
		assert.True(t, ok, cmd.Name)
		assert.NotEmpty(t, cmd.Description, cmd.Name)
		names[cmd.Name] = true
	}
	for _, name := range []string{"join", "leave", "song", "album", "random", "pause", "resume",
		"skip", "remove", "stop", "queue", "nowplaying", "history"} {
		assert.True(t, names[name], name)
	}
}

func option(name string, typ discordgo.ApplicationCommandOptionType, value interface{}) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: typ, Value: value}
}

func TestIntentFromCommand(t *testing.T) {
	tests := []struct {
		name string
		data discordgo.ApplicationCommandInteractionData
		want coordinator.Intent
	}{
		{
			name: "song query",
			data: discordgo.ApplicationCommandInteractionData{Name: "song", Options: []*discordgo.ApplicationCommandInteractionDataOption{
				option("query", discordgo.ApplicationCommandOptionString, "song a"),
			}},
			want: coordinator.Intent{Kind: coordinator.IntentSong, Query: "song a"},
		},
		{
			name: "skip defaults to one",
			data: discordgo.ApplicationCommandInteractionData{Name: "skip"},
			want: coordinator.Intent{Kind: coordinator.IntentSkip, Count: 1},
		},
		{
			name: "skip count",
			data: discordgo.ApplicationCommandInteractionData{Name: "skip", Options: []*discordgo.ApplicationCommandInteractionDataOption{
				option("count", discordgo.ApplicationCommandOptionInteger, float64(3)),
			}},
			want: coordinator.Intent{Kind: coordinator.IntentSkip, Count: 3},
		},
		{
			name: "remove is one-based",
			data: discordgo.ApplicationCommandInteractionData{Name: "remove", Options: []*discordgo.ApplicationCommandInteractionDataOption{
				option("position", discordgo.ApplicationCommandOptionInteger, float64(2)),
			}},
			want: coordinator.Intent{Kind: coordinator.IntentRemove, Position: 1},
		},
		{
			name: "history limit",
			data: discordgo.ApplicationCommandInteractionData{Name: "history", Options: []*discordgo.ApplicationCommandInteractionDataOption{
				option("limit", discordgo.ApplicationCommandOptionInteger, float64(5)),
			}},
			want: coordinator.Intent{Kind: coordinator.IntentHistory, Limit: 5},
		},
		{
			name: "plain command",
			data: discordgo.ApplicationCommandInteractionData{Name: "nowplaying"},
			want: coordinator.Intent{Kind: coordinator.IntentNowPlaying},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntentFromCommand(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntentFromCommandRejects(t *testing.T) {
	_, err := IntentFromCommand(discordgo.ApplicationCommandInteractionData{Name: "dance"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = IntentFromCommand(discordgo.ApplicationCommandInteractionData{Name: "remove"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = IntentFromCommand(discordgo.ApplicationCommandInteractionData{Name: "remove", Options: []*discordgo.ApplicationCommandInteractionDataOption{
		option("position", discordgo.ApplicationCommandOptionInteger, float64(0)),
	}})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestParseText(t *testing.T) {
	name, rest, ok := ParseText("~", "~play  Song A ")
	require.True(t, ok)
	assert.Equal(t, "song", name)
	assert.Equal(t, "Song A", rest)

	name, rest, ok = ParseText("~", "~Skip")
	require.True(t, ok)
	assert.Equal(t, "skip", name)
	assert.Empty(t, rest)

	_, _, ok = ParseText("~", "hello ~song")
	assert.False(t, ok)
	_, _, ok = ParseText("~", "~")
	assert.False(t, ok)
	_, _, ok = ParseText("", "~song")
	assert.False(t, ok)
}

func TestIntentFromText(t *testing.T) {
	in, err := IntentFromText("skip", "2")
	require.NoError(t, err)
	assert.Equal(t, coordinator.Intent{Kind: coordinator.IntentSkip, Count: 2}, in)

	in, err = IntentFromText("remove", "1")
	require.NoError(t, err)
	assert.Equal(t, 0, in.Position)

	in, err = IntentFromText("album", "greatest hits")
	require.NoError(t, err)
	assert.Equal(t, "greatest hits", in.Query)

	_, err = IntentFromText("skip", "lots")
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func entry(title, artist string) playlist.Entry {
	return playlist.NewEntry(playlist.Track{Title: title, Artist: artist}, "tester")
}

func TestRender(t *testing.T) {
	a := entry("Song A", "Band")
	b := entry("Song B", "")

	assert.Equal(t, "Added **Song A - Band** to the queue",
		Render(coordinator.Result{Kind: coordinator.IntentSong, Added: []playlist.Entry{a}, Position: 1}))
	assert.Equal(t, "Added **Song B** to the queue at position 2",
		Render(coordinator.Result{Kind: coordinator.IntentRandom, Added: []playlist.Entry{b}, Position: 2}))
	assert.Equal(t, "Added album **Greatest - Band** (2 songs) to the queue",
		Render(coordinator.Result{
			Kind:  coordinator.IntentAlbum,
			Added: []playlist.Entry{a, b},
			Album: &playlist.Album{Name: "Greatest", Artist: "Band"},
		}))
	assert.Equal(t, "3 song(s) skipped", Render(coordinator.Result{Kind: coordinator.IntentSkip, Skipped: 3}))
	assert.Equal(t, "Removed track: Song B", Render(coordinator.Result{Kind: coordinator.IntentRemove, Removed: &b}))
	assert.Equal(t, "Not currently playing", Render(coordinator.Result{Kind: coordinator.IntentNowPlaying}))
	assert.Equal(t, "**Currently playing**: Song A - Band",
		Render(coordinator.Result{Kind: coordinator.IntentNowPlaying, View: player.View{Current: &a}}))
	assert.Equal(t, "Bye!", Render(coordinator.Result{Kind: coordinator.IntentLeave}))
}

func TestRenderQueue(t *testing.T) {
	assert.Equal(t, "No songs queued", Render(coordinator.Result{Kind: coordinator.IntentQueue}))

	a := entry("Song A", "Band")
	view := player.View{State: player.StatePaused, Current: &a, Pending: []playlist.Entry{entry("Song B", "Other")}}
	out := Render(coordinator.Result{Kind: coordinator.IntentQueue, View: view})
	assert.Equal(t, "**Currently playing**: Song A - Band (paused)\n\n**Next songs in queue**:\n**2.** Song B - Other\n", out)

	var pending []playlist.Entry
	for i := 0; i < maxListed+5; i++ {
		pending = append(pending, entry("filler", ""))
	}
	out = Render(coordinator.Result{Kind: coordinator.IntentQueue, View: player.View{Current: &a, Pending: pending}})
	assert.Equal(t, maxListed, strings.Count(out, "filler"))
	assert.Contains(t, out, "...and 5 more")
}

func TestRenderHistory(t *testing.T) {
	assert.Equal(t, "No songs played yet", Render(coordinator.Result{Kind: coordinator.IntentHistory}))

	out := Render(coordinator.Result{Kind: coordinator.IntentHistory, History: []history.Play{
		{Title: "Song B", Artist: "Band", RequestedBy: "ann"},
		{Title: "Song A"},
	}})
	assert.Equal(t, "**Recently played**:\n**1.** Song B - Band (ann)\n**2.** Song A\n", out)
}

func TestRenderError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errs.New(errs.KindNotInSession, "skip", "not connected to a voice channel"), "I'm not in a voice channel. Try '/join' first"},
		{errs.New(errs.KindNoChannel, "join", "caller is not in a voice channel"), "You must be in a voice channel to use this command"},
		{errs.Newf(errs.KindInvalidState, "pause", "cannot pause while %s", player.StateStopped), "Not currently playing"},
		{errs.Newf(errs.KindInvalidState, "pause", "cannot pause while %s", player.StatePaused), "Already paused"},
		{errs.Newf(errs.KindInvalidState, "resume", "cannot resume while %s", player.StatePlaying), "Already playing"},
		{errs.New(errs.KindNotFound, "remove", "queue is empty"), "Song not found"},
		{errs.New(errs.KindNotFound, "song", "No song matching search found"), "No song matching search found"},
		{errs.New(errs.KindInvalidArgument, "skip", "count must be at least 1, got 0"), "Invalid command: count must be at least 1, got 0"},
		{errs.Transport("join", errors.New("timeout")), "Voice connection problem, please try again"},
		{errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderError(tt.err), tt.err.Error())
	}
}
