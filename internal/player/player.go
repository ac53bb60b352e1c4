package player

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/backends"
	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/playlist"
)

// ErrSessionClosed is returned by every operation on a session that has been
// torn down. Its kind is NotInSession.
var ErrSessionClosed = errs.New(errs.KindNotInSession, "", "session closed")

// Session coordinates the playback queue and the voice connection of one guild.
// All exported methods hold the session lock for their whole duration,
// transport I/O included, so queue and connection never disagree.
type Session struct {
	mu        sync.Mutex
	guildID   string
	transport backends.Transport
	conn      backends.Connection // nil until the first successful join
	queue     *playlist.Queue
	state     PlaybackState
	closed    bool

	// Mirrors conn != nil for readers that must not wait on the lock
	connected atomic.Bool

	logger *zap.Logger

	// Change notification callback (registry fan-out)
	notify Notifier
	// Called once when the session is torn down, with the lock held
	release func(*Session)
}

// NewSession creates a session that is not connected yet.
// notify and release may be nil.
func NewSession(guildID string, transport backends.Transport, logger *zap.Logger, notify Notifier, release func(*Session)) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(Event) {}
	}
	if release == nil {
		release = func(*Session) {}
	}
	return &Session{
		guildID:   guildID,
		transport: transport,
		queue:     playlist.NewQueue(),
		state:     StateStopped,
		logger:    logger.With(zap.String("guild", guildID)),
		notify:    notify,
		release:   release,
	}
}

// GuildID returns the guild this session belongs to
func (s *Session) GuildID() string {
	return s.guildID
}

// Connected reports whether the session holds a voice connection. It does
// not wait for an operation in progress.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Closed reports whether the session has been torn down
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Join connects to channelID. It is a no-op when already connected.
// A session whose first join fails is torn down and leaves the registry.
func (s *Session) Join(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinLocked(ctx, channelID)
}

func (s *Session) joinLocked(ctx context.Context, channelID string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.conn != nil {
		return nil
	}

	if channelID == "" {
		s.abandonLocked()
		return errs.New(errs.KindNoChannel, "join", "caller is not in a voice channel")
	}

	s.logger.Info("Joining voice channel", zap.String("channel", channelID))
	conn, err := s.transport.Connect(ctx, s.guildID, channelID, s)
	if err != nil {
		s.abandonLocked()
		return errs.Transport("join", err)
	}

	s.conn = conn
	s.connected.Store(true)
	s.notify(s.eventLocked(SubsystemSession))
	return nil
}

// abandonLocked discards a session that never connected
func (s *Session) abandonLocked() {
	s.closed = true
	s.release(s)
}

// Leave stops playback, clears the queue, releases the connection and
// removes the session from its registry. It is idempotent.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.logger.Info("Leaving voice channel")
	return s.teardownLocked(true)
}

// teardownLocked makes the session terminal. The connection is closed only
// when closeConn is set; a disconnected connection must not be touched.
func (s *Session) teardownLocked(closeConn bool) error {
	var err error
	if s.conn != nil && closeConn {
		if s.state != StateStopped {
			if stopErr := s.conn.Stop(); stopErr != nil {
				s.logger.Warn("Failed to stop stream during teardown", zap.Error(stopErr))
			}
		}
		err = s.conn.Close()
	}

	s.queue.Clear()
	s.state = StateStopped
	s.conn = nil
	s.connected.Store(false)
	s.closed = true
	s.release(s)

	ev := s.eventLocked(SubsystemSession)
	ev.Closed = true
	s.notify(ev)

	if err != nil {
		return errs.Transport("leave", err)
	}
	return nil
}

// TrackFinished implements backends.Listener. A natural end of track takes
// the same advance path as an explicit skip of one.
func (s *Session) TrackFinished(conn backends.Connection, entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || conn != s.conn || s.state == StateStopped {
		s.logger.Debug("Ignoring stale track-finished notification", zap.String("entry", entryID))
		return
	}
	cur, ok := s.queue.Current()
	if !ok || cur.ID != entryID {
		s.logger.Debug("Ignoring track-finished for non-current entry", zap.String("entry", entryID))
		return
	}

	s.logger.Info("Track finished", zap.String("title", cur.Track.Title))
	if _, err := s.advanceLocked(context.Background(), 1, false); err != nil {
		s.logger.Warn("Failed to start next track", zap.Error(err))
	}
}

// Disconnected implements backends.Listener. A lost connection always
// tears the session down.
func (s *Session) Disconnected(conn backends.Connection, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || conn != s.conn {
		return
	}
	s.logger.Info("Voice connection lost, closing session", zap.Error(reason))
	_ = s.teardownLocked(false)
}

func (s *Session) eventLocked(sub Subsystem) Event {
	return Event{
		GuildID:   s.guildID,
		Subsystem: sub,
		State:     s.state,
	}
}
