package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/history"
	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

type stubTransport struct {
	mu       sync.Mutex
	connects int
	delay    time.Duration
}

func (t *stubTransport) Connect(ctx context.Context, guildID, channelID string, l backends.Listener) (backends.Connection, error) {
	t.mu.Lock()
	t.connects++
	t.mu.Unlock()
	time.Sleep(t.delay)
	return &stubConn{channel: channelID}, nil
}

func (t *stubTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type stubConn struct{ channel string }

func (c *stubConn) Play(context.Context, string, playlist.StreamLocator) error { return nil }
func (c *stubConn) Pause() error                                               { return nil }
func (c *stubConn) Resume() error                                              { return nil }
func (c *stubConn) Stop() error                                                { return nil }
func (c *stubConn) Close() error                                               { return nil }
func (c *stubConn) ChannelID() string                                          { return c.channel }

type stubCatalog struct {
	songs  map[string]playlist.Track
	albums map[string]playlist.Album
	err    error
}

func (c *stubCatalog) SearchSong(ctx context.Context, query string) (playlist.Track, error) {
	if c.err != nil {
		return playlist.Track{}, c.err
	}
	t, ok := c.songs[strings.ToLower(query)]
	if !ok {
		return playlist.Track{}, errs.New(errs.KindNotFound, "search", "no song matching search found")
	}
	return t, nil
}

func (c *stubCatalog) SearchAlbum(ctx context.Context, query string) (playlist.Album, error) {
	a, ok := c.albums[strings.ToLower(query)]
	if !ok {
		return playlist.Album{}, errs.New(errs.KindNotFound, "search", "no albums matching search found")
	}
	return a, nil
}

func (c *stubCatalog) RandomSong(ctx context.Context) (playlist.Track, error) {
	return c.songs["song a"], nil
}

type stubHistory struct {
	guild string
	limit int
}

func (h *stubHistory) Recent(ctx context.Context, guildID string, limit int) ([]history.Play, error) {
	h.guild, h.limit = guildID, limit
	return []history.Play{{GuildID: guildID, Title: "old"}}, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds map[string][]errs.Kind
}

func (o *recordingObserver) ObserveCommand(intent string, kind errs.Kind, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds[intent] = append(o.kinds[intent], kind)
}

func track(title string) playlist.Track {
	return playlist.Track{Title: title, Artist: "Artist", Locator: playlist.StreamLocator("id-" + title)}
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *stubTransport) {
	t.Helper()
	tr := &stubTransport{}
	cat := &stubCatalog{
		songs: map[string]playlist.Track{
			"song a": track("Song A"),
			"song b": track("Song B"),
		},
		albums: map[string]playlist.Album{
			"greatest": {Name: "Greatest", Artist: "Artist", Tracks: []playlist.Track{track("one"), track("two"), track("three")}},
			"empty":    {Name: "Empty"},
		},
	}
	return New(player.NewRegistry(tr, nil), cat, nil, opts...), tr
}

func songIntent(query string) Intent {
	return Intent{Kind: IntentSong, GuildID: "G", ChannelHint: "voice", RequestedBy: "alice", Query: query}
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	res, err := c.Execute(ctx, songIntent("Song A"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, player.StatePlaying, res.View.State)
	require.NotNil(t, res.View.Current)
	assert.Equal(t, "Song A", res.View.Current.Track.Title)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "alice", res.Added[0].RequestedBy)

	res, err = c.Execute(ctx, songIntent("song b"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Position)

	res, err = c.Execute(ctx, Intent{Kind: IntentSkip, GuildID: "G", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	require.NotNil(t, res.View.Current)
	assert.Equal(t, "Song B", res.View.Current.Track.Title)

	_, err = c.Execute(ctx, Intent{Kind: IntentRemove, GuildID: "G", Position: 1})
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	res, err = c.Execute(ctx, Intent{Kind: IntentSkip, GuildID: "G", Count: 1})
	require.NoError(t, err)
	assert.Equal(t, player.StateStopped, res.View.State)
	assert.Nil(t, res.View.Current)
}

func TestCommandsNeedSession(t *testing.T) {
	ctx := context.Background()
	c, tr := newTestCoordinator(t)

	for _, kind := range []IntentKind{IntentLeave, IntentPause, IntentResume, IntentSkip, IntentRemove, IntentStop, IntentQueue, IntentNowPlaying} {
		_, err := c.Execute(ctx, Intent{Kind: kind, GuildID: "G", ChannelHint: "voice", Count: 1})
		require.Error(t, err, kind.String())
		assert.Equal(t, errs.KindNotInSession, errs.KindOf(err), kind.String())

		var e *errs.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, "G", e.GuildID)
		assert.Equal(t, kind.String(), e.Op)
	}
	assert.Equal(t, 0, tr.connectCount(), "only join and enqueue connect")
}

func TestEnqueueWithoutChannel(t *testing.T) {
	c, tr := newTestCoordinator(t)

	in := songIntent("song a")
	in.ChannelHint = ""
	_, err := c.Execute(context.Background(), in)
	assert.Equal(t, errs.KindNoChannel, errs.KindOf(err))
	assert.Equal(t, 0, tr.connectCount())
	assert.Equal(t, 0, c.Registry().Len())
}

func TestEnqueueJoinsOnce(t *testing.T) {
	ctx := context.Background()
	c, tr := newTestCoordinator(t)

	_, err := c.Execute(ctx, Intent{Kind: IntentJoin, GuildID: "G", ChannelHint: "voice"})
	require.NoError(t, err)

	// Once connected, callers outside any voice channel can still queue
	in := songIntent("song a")
	in.ChannelHint = ""
	res, err := c.Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 1, tr.connectCount())
}

func TestCatalogNotFoundPassesThrough(t *testing.T) {
	c, tr := newTestCoordinator(t)

	_, err := c.Execute(context.Background(), songIntent("nothing like this"))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.Contains(t, err.Error(), "no song matching search found")
	assert.Equal(t, 0, tr.connectCount(), "failed lookups don't join")
}

func TestCatalogFailureIsTransport(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.catalog.(*stubCatalog).err = errors.New("connection refused")

	_, err := c.Execute(context.Background(), songIntent("song a"))
	assert.Equal(t, errs.KindTransport, errs.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestEmptyQuery(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(context.Background(), songIntent("   "))
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestAlbumEnqueuesAllSongs(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	res, err := c.Execute(ctx, Intent{Kind: IntentAlbum, GuildID: "G", ChannelHint: "voice", Query: "Greatest"})
	require.NoError(t, err)
	require.NotNil(t, res.Album)
	assert.Equal(t, "Greatest", res.Album.Name)
	assert.Len(t, res.Added, 3)
	assert.Equal(t, 3, res.Position)
	assert.Equal(t, 3, res.View.Len())

	_, err = c.Execute(ctx, Intent{Kind: IntentAlbum, GuildID: "G", ChannelHint: "voice", Query: "empty"})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestRandomSong(t *testing.T) {
	c, _ := newTestCoordinator(t)
	res, err := c.Execute(context.Background(), Intent{Kind: IntentRandom, GuildID: "G", ChannelHint: "voice"})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "Song A", res.Added[0].Track.Title)
}

func TestRemoveReturnsEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(ctx, Intent{Kind: IntentAlbum, GuildID: "G", ChannelHint: "voice", Query: "greatest"})
	require.NoError(t, err)

	res, err := c.Execute(ctx, Intent{Kind: IntentRemove, GuildID: "G", Position: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Removed)
	assert.Equal(t, "two", res.Removed.Track.Title)
	assert.Equal(t, 2, res.View.Len())
}

func TestPauseStateErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(ctx, Intent{Kind: IntentJoin, GuildID: "G", ChannelHint: "voice"})
	require.NoError(t, err)

	_, err = c.Execute(ctx, Intent{Kind: IntentPause, GuildID: "G"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	_, err = c.Execute(ctx, songIntent("song a"))
	require.NoError(t, err)
	res, err := c.Execute(ctx, Intent{Kind: IntentPause, GuildID: "G"})
	require.NoError(t, err)
	assert.Equal(t, player.StatePaused, res.View.State)
}

func TestLeaveThenCommands(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(ctx, songIntent("song a"))
	require.NoError(t, err)

	_, err = c.Execute(ctx, Intent{Kind: IntentLeave, GuildID: "G"})
	require.NoError(t, err)

	_, err = c.Execute(ctx, Intent{Kind: IntentQueue, GuildID: "G"})
	assert.Equal(t, errs.KindNotInSession, errs.KindOf(err))
}

func TestConcurrentFirstCommands(t *testing.T) {
	c, tr := newTestCoordinator(t)
	tr.delay = 30 * time.Millisecond

	var g errgroup.Group
	positions := make([]int, 2)
	for i, hint := range []string{"voice-1", "voice-2"} {
		i, hint := i, hint
		g.Go(func() error {
			in := songIntent("song a")
			in.GuildID = "G2"
			in.ChannelHint = hint
			res, err := c.Execute(context.Background(), in)
			positions[i] = res.Position
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, tr.connectCount())
	assert.ElementsMatch(t, []int{1, 2}, positions)
	s, ok := c.Registry().Get("G2")
	require.True(t, ok)
	assert.Equal(t, 2, s.View().Len())
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	_, err := c.Execute(ctx, Intent{Kind: IntentHistory, GuildID: "G"})
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))

	h := &stubHistory{}
	c, _ = newTestCoordinator(t, WithHistory(h))
	res, err := c.Execute(ctx, Intent{Kind: IntentHistory, GuildID: "G", Limit: 500})
	require.NoError(t, err)
	require.Len(t, res.History, 1)
	assert.Equal(t, "G", h.guild)
	assert.Equal(t, maxHistoryLimit, h.limit)
}

func TestObserverSeesEveryCommand(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{kinds: make(map[string][]errs.Kind)}
	c, _ := newTestCoordinator(t, WithObserver(obs))

	_, _ = c.Execute(ctx, Intent{Kind: IntentPause, GuildID: "G"})
	_, _ = c.Execute(ctx, songIntent("song a"))

	assert.Equal(t, []errs.Kind{errs.KindNotInSession}, obs.kinds["pause"])
	assert.Equal(t, []errs.Kind{errs.KindUnknown}, obs.kinds["song"])
}

func TestParseIntentKind(t *testing.T) {
	for k := IntentJoin; k <= IntentHistory; k++ {
		got, ok := ParseIntentKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseIntentKind("dance")
	assert.False(t, ok)
}
