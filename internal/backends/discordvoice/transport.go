// Package discordvoice streams tracks into Discord voice channels.
//
// Each connection plays at most one stream at a time: the source bytes come
// from a backends.StreamOpener, are transcoded to Opus by ffmpeg and pushed
// into the voice connection frame by frame.
package discordvoice

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/decoder"
	"github.com/disconic/disconic/internal/playlist"
)

// ErrIdle is reported to the listener when a connection is closed for
// having nothing to play
var ErrIdle = errors.New("voice connection idle")

// ErrKicked is reported when the bot was removed from its channel
var ErrKicked = errors.New("removed from voice channel")

// defaultOpenTimeout bounds opening a track when Options.OpenTimeout is unset
const defaultOpenTimeout = 30 * time.Second

// Link is the part of a voice connection the transport drives
type Link interface {
	Send(ctx context.Context, packet []byte) error
	Speaking(speaking bool) error
	Disconnect() error
}

// PacketSource yields Opus packets until io.EOF
type PacketSource interface {
	NextPacket() ([]byte, error)
	Close() error
}

// EncodeFunc starts transcoding src. The source must stop when ctx is done.
type EncodeFunc func(ctx context.Context, src io.Reader) (PacketSource, error)

// JoinFunc joins a voice channel
type JoinFunc func(guildID, channelID string) (Link, error)

// FFmpeg adapts an encoder to EncodeFunc
func FFmpeg(enc *decoder.OpusEncoder) EncodeFunc {
	return func(ctx context.Context, src io.Reader) (PacketSource, error) {
		stream, err := enc.Start(ctx, src)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

type discordLink struct {
	vc *discordgo.VoiceConnection
}

func (l *discordLink) Send(ctx context.Context, packet []byte) error {
	select {
	case l.vc.OpusSend <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *discordLink) Speaking(speaking bool) error { return l.vc.Speaking(speaking) }
func (l *discordLink) Disconnect() error           { return l.vc.Disconnect() }

// Options configure a Transport
type Options struct {
	Opener      backends.StreamOpener
	Encode      EncodeFunc
	IdleTimeout time.Duration // 0 disables the idle disconnect
	// Upper bound for opening a track, before the first byte is read
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

// Transport implements backends.Transport on top of a discordgo session
type Transport struct {
	join        JoinFunc
	opener      backends.StreamOpener
	encode      EncodeFunc
	idle        time.Duration
	openTimeout time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	conns map[string]*Connection // by guild

	removeHandler func()
}

// New creates a transport joining channels through s. It watches the bot's
// own voice state to notice being kicked or moved.
func New(s *discordgo.Session, opts Options) *Transport {
	t := NewWithJoiner(func(guildID, channelID string) (Link, error) {
		vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
		if err != nil {
			return nil, err
		}
		return &discordLink{vc: vc}, nil
	}, opts)
	t.removeHandler = s.AddHandler(t.onVoiceStateUpdate)
	return t
}

// NewWithJoiner creates a transport using join to open voice links
func NewWithJoiner(join JoinFunc, opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	return &Transport{
		join:        join,
		opener:      opts.Opener,
		encode:      opts.Encode,
		idle:        opts.IdleTimeout,
		openTimeout: openTimeout,
		logger:      logger.Named("voice"),
		conns:       make(map[string]*Connection),
	}
}

// Connect implements backends.Transport
func (t *Transport) Connect(ctx context.Context, guildID, channelID string, l backends.Listener) (backends.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.logger.Info("Joining voice channel", zap.String("guild", guildID), zap.String("channel", channelID))
	link, err := t.join(guildID, channelID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join channel %s", channelID)
	}

	c := &Connection{
		t:         t,
		guildID:   guildID,
		channelID: channelID,
		link:      link,
		listener:  l,
		logger:    t.logger.With(zap.String("guild", guildID)),
	}

	t.mu.Lock()
	t.conns[guildID] = c
	t.mu.Unlock()

	c.mu.Lock()
	c.armIdleLocked()
	c.mu.Unlock()
	return c, nil
}

// Close stops watching voice state updates. Open connections are left to
// their sessions.
func (t *Transport) Close() {
	if t.removeHandler != nil {
		t.removeHandler()
	}
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
}

func (t *Transport) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || s.State == nil || s.State.User == nil || v.UserID != s.State.User.ID {
		return
	}
	t.HandleVoiceState(v.GuildID, v.ChannelID)
}

// HandleVoiceState applies a voice state change of the bot user. An empty
// channelID means the bot is no longer in a voice channel.
func (t *Transport) HandleVoiceState(guildID, channelID string) {
	t.mu.Lock()
	c, ok := t.conns[guildID]
	t.mu.Unlock()
	if !ok {
		return
	}

	if channelID == "" {
		c.gone(ErrKicked)
		return
	}

	c.mu.Lock()
	if c.channelID != channelID {
		c.logger.Info("Moved to another voice channel", zap.String("from", c.channelID), zap.String("to", channelID))
		c.channelID = channelID
	}
	c.mu.Unlock()
}

// Connection is one guild's voice connection
type Connection struct {
	t        *Transport
	guildID  string
	link     Link
	listener backends.Listener
	logger   *zap.Logger

	mu        sync.Mutex
	channelID string
	closed    bool
	cur       *stream
	idleTimer *time.Timer
}

// ChannelID implements backends.Connection
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Play implements backends.Connection. The stream outlives ctx: ctx and the
// open timeout only bound opening the track, and the stream runs until it
// ends or is stopped.
func (c *Connection) Play(ctx context.Context, entryID string, locator playlist.StreamLocator) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("voice connection closed")
	}
	prev := c.cur
	c.cur = nil
	c.mu.Unlock()
	prev.stop()

	streamCtx, cancel := context.WithCancel(context.Background())
	src, err := c.open(ctx, streamCtx, cancel, locator)
	if err != nil {
		cancel()
		c.rearmIdle()
		return err
	}

	packets, err := c.t.encode(streamCtx, src)
	if err != nil {
		cancel()
		src.Close()
		c.rearmIdle()
		return errors.Wrapf(err, "failed to start encoder for %s", locator)
	}

	st := &stream{
		entryID: entryID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		packets.Close()
		src.Close()
		return errors.New("voice connection closed")
	}
	c.cur = st
	c.stopIdleLocked()
	c.mu.Unlock()

	c.logger.Debug("Starting stream", zap.String("entry", entryID), zap.String("locator", string(locator)))
	go c.run(streamCtx, st, src, packets)
	return nil
}

// open opens locator under the stream context. Until Open returns, the
// stream is cancelled when ctx is done or the open timeout passes.
func (c *Connection) open(ctx, streamCtx context.Context, cancel context.CancelFunc, locator playlist.StreamLocator) (io.ReadCloser, error) {
	timer := time.AfterFunc(c.t.openTimeout, cancel)
	stopCaller := context.AfterFunc(ctx, cancel)

	src, err := c.t.opener.Open(streamCtx, locator)
	inTime := timer.Stop()
	callerWaiting := stopCaller()
	if err == nil && inTime && callerWaiting {
		return src, nil
	}
	if src != nil {
		src.Close()
	}

	switch {
	case !inTime:
		return nil, errors.Newf("opening %s took longer than %s", locator, c.t.openTimeout)
	case !callerWaiting:
		return nil, errors.Wrapf(ctx.Err(), "gave up opening %s", locator)
	default:
		return nil, errors.Wrapf(err, "failed to open %s", locator)
	}
}

func (c *Connection) run(ctx context.Context, st *stream, src io.ReadCloser, packets PacketSource) {
	defer close(st.done)
	defer src.Close()
	defer packets.Close()

	if err := c.link.Speaking(true); err != nil {
		c.logger.Debug("Failed to set speaking", zap.Error(err))
	}
	natural := c.pump(ctx, st, packets)
	if err := c.link.Speaking(false); err != nil {
		c.logger.Debug("Failed to clear speaking", zap.Error(err))
	}
	if !natural {
		return
	}

	c.mu.Lock()
	if c.closed || c.cur != st {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.armIdleLocked()
	c.mu.Unlock()

	go c.listener.TrackFinished(c, st.entryID)
}

// pump sends packets until the source ends. It reports false when the
// stream was stopped from outside.
func (c *Connection) pump(ctx context.Context, st *stream, packets PacketSource) bool {
	sent := 0
	for {
		if err := st.waitResumed(ctx); err != nil {
			return false
		}
		packet, err := packets.NextPacket()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if !errors.Is(err, io.EOF) {
				// A broken track still counts as over so the queue moves on
				c.logger.Warn("Stream failed", zap.String("entry", st.entryID), zap.Int("packets", sent), zap.Error(err))
			}
			return true
		}
		if err := c.link.Send(ctx, packet); err != nil {
			return false
		}
		sent++
	}
}

// Pause implements backends.Connection. With nothing streaming it does
// nothing: a track that just ended is about to be reported as finished.
func (c *Connection) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		c.cur.setPaused(true)
	}
	return nil
}

// Resume implements backends.Connection
func (c *Connection) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		c.cur.setPaused(false)
	}
	return nil
}

// Stop implements backends.Connection
func (c *Connection) Stop() error {
	c.mu.Lock()
	st := c.cur
	c.cur = nil
	if !c.closed {
		c.armIdleLocked()
	}
	c.mu.Unlock()

	st.stop()
	return nil
}

// Close implements backends.Connection
func (c *Connection) Close() error {
	_, err := c.shutdown()
	return err
}

// shutdown leaves the channel once. It reports whether this call did it.
func (c *Connection) shutdown() (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, nil
	}
	c.closed = true
	st := c.cur
	c.cur = nil
	c.stopIdleLocked()
	c.mu.Unlock()

	st.stop()
	c.t.forget(c)
	c.logger.Info("Leaving voice channel")
	if err := c.link.Disconnect(); err != nil {
		return true, errors.Wrap(err, "failed to disconnect")
	}
	return true, nil
}

// gone closes the connection on behalf of the remote side and tells the
// listener about it
func (c *Connection) gone(reason error) {
	closed, err := c.shutdown()
	if !closed {
		return
	}
	if err != nil {
		c.logger.Debug("Disconnect after loss failed", zap.Error(err))
	}
	c.logger.Info("Voice connection lost", zap.Error(reason))
	go c.listener.Disconnected(c, reason)
}

func (c *Connection) armIdleLocked() {
	c.stopIdleLocked()
	if c.t.idle <= 0 {
		return
	}
	c.idleTimer = time.AfterFunc(c.t.idle, c.idleExpired)
}

func (c *Connection) stopIdleLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Connection) rearmIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.cur == nil {
		c.armIdleLocked()
	}
}

func (c *Connection) idleExpired() {
	c.mu.Lock()
	busy := c.closed || c.cur != nil
	c.mu.Unlock()
	if busy {
		return
	}
	c.gone(ErrIdle)
}

// stream is one running track
type stream struct {
	entryID string
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// stop cancels the stream and waits for its goroutine. Safe on nil.
func (st *stream) stop() {
	if st == nil {
		return
	}
	st.cancel()
	<-st.done
}

func (st *stream) setPaused(paused bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if paused == st.paused {
		return
	}
	st.paused = paused
	if paused {
		st.resumed = make(chan struct{})
	} else {
		close(st.resumed)
	}
}

func (st *stream) waitResumed(ctx context.Context) error {
	for {
		st.mu.Lock()
		if !st.paused {
			st.mu.Unlock()
			return ctx.Err()
		}
		ch := st.resumed
		st.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
