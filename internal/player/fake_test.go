package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/playlist"
)

// fakeTransport records connects and hands out fakeConns
type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	channels   []string
	conns      []*fakeConn
	connectErr error
	delay      time.Duration
	failPlay   map[playlist.StreamLocator]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failPlay: make(map[playlist.StreamLocator]bool)}
}

func (t *fakeTransport) Connect(ctx context.Context, guildID, channelID string, l backends.Listener) (backends.Connection, error) {
	t.mu.Lock()
	t.connects++
	t.channels = append(t.channels, channelID)
	err := t.connectErr
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	c := &fakeConn{transport: t, channel: channelID, listener: l}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) openConns() int {
	t.mu.Lock()
	conns := append([]*fakeConn(nil), t.conns...)
	t.mu.Unlock()

	n := 0
	for _, c := range conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

func (t *fakeTransport) shouldFail(loc playlist.StreamLocator) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failPlay[loc]
}

type fakeConn struct {
	transport *fakeTransport
	listener  backends.Listener
	channel   string

	mu      sync.Mutex
	current string
	played  []playlist.StreamLocator
	paused  bool
	stops   int
	closed  bool
	gone    bool
	stopErr error
}

func (c *fakeConn) Play(ctx context.Context, entryID string, locator playlist.StreamLocator) error {
	if c.transport.shouldFail(locator) {
		return errors.Newf("cannot stream %s", locator)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = entryID
	c.paused = false
	c.played = append(c.played, locator)
	return nil
}

func (c *fakeConn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *fakeConn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *fakeConn) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return c.stopErr
	}
	c.stops++
	c.current = ""
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) ChannelID() string { return c.channel }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.gone
}

func (c *fakeConn) playedLocators() []playlist.StreamLocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]playlist.StreamLocator(nil), c.played...)
}

func (c *fakeConn) currentEntry() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// finish simulates the running stream reaching its end
func (c *fakeConn) finish() {
	c.mu.Lock()
	id := c.current
	c.current = ""
	c.mu.Unlock()
	c.listener.TrackFinished(c, id)
}

// drop simulates the voice connection going away
func (c *fakeConn) drop(reason error) {
	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
	c.listener.Disconnected(c, reason)
}

func song(title string) playlist.Entry {
	return playlist.NewEntry(playlist.Track{
		Title:   title,
		Artist:  "Artist",
		Locator: playlist.StreamLocator("loc-" + title),
	}, "tester")
}

func locators(titles ...string) []playlist.StreamLocator {
	out := make([]playlist.StreamLocator, 0, len(titles))
	for _, t := range titles {
		out = append(out, playlist.StreamLocator("loc-"+t))
	}
	return out
}

func viewTitles(v View) []string {
	out := []string{}
	if v.Current != nil {
		out = append(out, v.Current.Track.Title)
	}
	for _, e := range v.Pending {
		out = append(out, e.Track.Title)
	}
	return out
}
