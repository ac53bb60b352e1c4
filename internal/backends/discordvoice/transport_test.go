package discordvoice

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/playlist"
)

type fakeLink struct {
	mu          sync.Mutex
	packets     []string
	speaking    []bool
	disconnects int
	sent        chan struct{}
}

func newFakeLink() *fakeLink {
	return &fakeLink{sent: make(chan struct{}, 1024)}
}

func (l *fakeLink) Send(ctx context.Context, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	l.packets = append(l.packets, string(packet))
	l.mu.Unlock()
	l.sent <- struct{}{}
	return nil
}

func (l *fakeLink) Speaking(speaking bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speaking = append(l.speaking, speaking)
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	return nil
}

func (l *fakeLink) sentPackets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.packets...)
}

func (l *fakeLink) disconnectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects
}

// The fake opener serves the locator itself; every comma-separated field
// becomes one packet. A field named "hold" blocks until the stream is
// stopped.
type fakeOpener struct{}

func (fakeOpener) Open(_ context.Context, locator playlist.StreamLocator) (io.ReadCloser, error) {
	if locator == "broken" {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(strings.NewReader(string(locator))), nil
}

type fakePackets struct {
	ctx    context.Context
	fields []string
}

func (p *fakePackets) NextPacket() ([]byte, error) {
	if len(p.fields) == 0 {
		return nil, io.EOF
	}
	next := p.fields[0]
	if next == "hold" {
		<-p.ctx.Done()
		return nil, errors.New("killed")
	}
	p.fields = p.fields[1:]
	return []byte(next), nil
}

func (p *fakePackets) Close() error { return nil }

func fakeEncode(ctx context.Context, src io.Reader) (PacketSource, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &fakePackets{ctx: ctx, fields: strings.Split(string(data), ",")}, nil
}

type listener struct {
	finished     chan string
	disconnected chan error
}

func newListener() *listener {
	return &listener{finished: make(chan string, 8), disconnected: make(chan error, 8)}
}

func (l *listener) TrackFinished(_ backends.Connection, entryID string) { l.finished <- entryID }
func (l *listener) Disconnected(_ backends.Connection, reason error)   { l.disconnected <- reason }

// slowOpener streams the locator one byte at a time. Reads fail once the
// context passed to Open is done, like an HTTP response body. "stall" never
// opens.
type slowOpener struct{}

func (slowOpener) Open(ctx context.Context, locator playlist.StreamLocator) (io.ReadCloser, error) {
	if locator == "stall" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return io.NopCloser(&trickleReader{ctx: ctx, data: string(locator)}), nil
}

type trickleReader struct {
	ctx  context.Context
	data string
}

func (r *trickleReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	case <-time.After(2 * time.Millisecond):
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:1], r.data)
	r.data = r.data[n:]
	return n, nil
}

// byteEncode turns every source byte into one packet, reading lazily
func byteEncode(_ context.Context, src io.Reader) (PacketSource, error) {
	return &bytePackets{src: src}, nil
}

type bytePackets struct{ src io.Reader }

func (p *bytePackets) NextPacket() ([]byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(p.src, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *bytePackets) Close() error { return nil }

func connect(t *testing.T, idle time.Duration) (*Transport, *Connection, *fakeLink, *listener) {
	t.Helper()
	return connectWith(t, Options{Opener: fakeOpener{}, Encode: fakeEncode, IdleTimeout: idle})
}

func connectWith(t *testing.T, opts Options) (*Transport, *Connection, *fakeLink, *listener) {
	t.Helper()
	link := newFakeLink()
	tr := NewWithJoiner(func(guildID, channelID string) (Link, error) {
		return link, nil
	}, opts)
	l := newListener()
	conn, err := tr.Connect(context.Background(), "guild", "voice-1", l)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return tr, conn.(*Connection), link, l
}

func waitSent(t *testing.T, link *fakeLink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-link.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d packets sent", i, n)
		}
	}
}

func TestPlayToEnd(t *testing.T) {
	_, conn, link, l := connect(t, 0)
	assert.Equal(t, "voice-1", conn.ChannelID())

	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,b,c"))
	select {
	case id := <-l.finished:
		assert.Equal(t, "entry-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("track never finished")
	}
	assert.Equal(t, []string{"a", "b", "c"}, link.sentPackets())

	link.mu.Lock()
	assert.Equal(t, []bool{true, false}, link.speaking)
	link.mu.Unlock()

	// Pause racing the end of track is harmless
	assert.NoError(t, conn.Pause())
	assert.NoError(t, conn.Resume())
}

func TestStreamOutlivesCommandContext(t *testing.T) {
	_, conn, link, l := connectWith(t, Options{Opener: slowOpener{}, Encode: byteEncode})

	cmdCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, conn.Play(cmdCtx, "entry-1", "abcdefghij"))
	cancel()

	select {
	case id := <-l.finished:
		assert.Equal(t, "entry-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("track never finished")
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}, link.sentPackets())
}

func TestOpenTimeout(t *testing.T) {
	_, conn, _, l := connectWith(t, Options{Opener: slowOpener{}, Encode: byteEncode, OpenTimeout: 30 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- conn.Play(context.Background(), "entry-1", "stall") }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "took longer than")
	case <-time.After(2 * time.Second):
		t.Fatal("stalled open was not abandoned")
	}

	// The connection is still usable
	require.NoError(t, conn.Play(context.Background(), "entry-2", "z"))
	assert.Equal(t, "entry-2", <-l.finished)
}

func TestOpenGivesUpWithCaller(t *testing.T) {
	_, conn, _, _ := connectWith(t, Options{Opener: slowOpener{}, Encode: byteEncode, OpenTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := conn.Play(ctx, "entry-1", "stall")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestStopReportsNothing(t *testing.T) {
	_, conn, link, l := connect(t, 0)

	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,hold"))
	waitSent(t, link, 1)
	require.NoError(t, conn.Stop())

	select {
	case id := <-l.finished:
		t.Fatalf("stopped track %s reported as finished", id)
	case <-time.After(50 * time.Millisecond):
	}

	// The connection is still usable
	require.NoError(t, conn.Play(context.Background(), "entry-2", "z"))
	assert.Equal(t, "entry-2", <-l.finished)
}

func TestPlayReplacesCurrentStream(t *testing.T) {
	_, conn, link, l := connect(t, 0)

	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,hold"))
	waitSent(t, link, 1)
	require.NoError(t, conn.Play(context.Background(), "entry-2", "b"))

	assert.Equal(t, "entry-2", <-l.finished)
	assert.Equal(t, []string{"a", "b"}, link.sentPackets())
}

func TestPauseHoldsPackets(t *testing.T) {
	_, conn, link, l := connect(t, 0)

	assert.NoError(t, conn.Pause(), "nothing to pause yet")

	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,hold"))
	waitSent(t, link, 1)
	require.NoError(t, conn.Pause())
	require.NoError(t, conn.Pause())
	require.NoError(t, conn.Resume())
	require.NoError(t, conn.Stop())

	select {
	case <-l.finished:
		t.Fatal("unexpected finish")
	default:
	}
}

func TestPauseGate(t *testing.T) {
	st := &stream{entryID: "e", done: make(chan struct{})}
	assert.NoError(t, st.waitResumed(context.Background()))

	st.setPaused(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, st.waitResumed(ctx))

	released := make(chan error, 1)
	go func() { released <- st.waitResumed(context.Background()) }()
	st.setPaused(false)
	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resume did not release the stream")
	}
}

func TestPlayOpenFailure(t *testing.T) {
	_, conn, _, l := connect(t, 0)

	err := conn.Play(context.Background(), "entry-1", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
	assert.Empty(t, l.finished)
}

func TestKickedReportsDisconnected(t *testing.T) {
	tr, conn, link, l := connect(t, 0)
	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,hold"))
	waitSent(t, link, 1)

	// Moving channels keeps the connection
	tr.HandleVoiceState("guild", "voice-2")
	assert.Equal(t, "voice-2", conn.ChannelID())

	tr.HandleVoiceState("guild", "")
	select {
	case reason := <-l.disconnected:
		assert.True(t, errors.Is(reason, ErrKicked))
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
	}
	assert.Empty(t, l.finished)
	assert.Equal(t, 1, link.disconnectCount())
	assert.Error(t, conn.Play(context.Background(), "entry-2", "b"))

	// Events for unknown guilds are ignored
	tr.HandleVoiceState("guild", "")
	tr.HandleVoiceState("elsewhere", "")
	assert.Empty(t, l.disconnected)
}

func TestIdleTimeout(t *testing.T) {
	_, _, link, l := connect(t, 30*time.Millisecond)

	select {
	case reason := <-l.disconnected:
		assert.True(t, errors.Is(reason, ErrIdle))
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was kept")
	}
	assert.Equal(t, 1, link.disconnectCount())
}

func TestPlayingIsNotIdle(t *testing.T) {
	_, conn, link, l := connect(t, 30*time.Millisecond)
	require.NoError(t, conn.Play(context.Background(), "entry-1", "a,hold"))
	waitSent(t, link, 1)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, l.disconnected)
	assert.Equal(t, 0, link.disconnectCount())
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, conn, link, l := connect(t, 0)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, link.disconnectCount())
	assert.Empty(t, l.disconnected)

	tr.mu.Lock()
	assert.Empty(t, tr.conns)
	tr.mu.Unlock()
}

func TestJoinFailure(t *testing.T) {
	tr := NewWithJoiner(func(guildID, channelID string) (Link, error) {
		return nil, errors.New("missing permissions")
	}, Options{Opener: fakeOpener{}, Encode: fakeEncode})

	_, err := tr.Connect(context.Background(), "guild", "voice-1", newListener())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing permissions")
}
