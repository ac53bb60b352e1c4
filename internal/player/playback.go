package player

import (
	"context"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
)

// Pause pauses playback (can be resumed with Resume)
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StatePlaying {
		return errs.Newf(errs.KindInvalidState, "pause", "cannot pause while %s", s.state)
	}

	s.logger.Info("Pausing playback")
	if err := s.conn.Pause(); err != nil {
		return errs.Transport("pause", err)
	}
	s.state = StatePaused

	s.notify(s.eventLocked(SubsystemPlayer))
	return nil
}

// Resume resumes playback from pause
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StatePaused {
		return errs.Newf(errs.KindInvalidState, "resume", "cannot resume while %s", s.state)
	}

	s.logger.Info("Resuming playback from pause")
	if err := s.conn.Resume(); err != nil {
		return errs.Transport("resume", err)
	}
	s.state = StatePlaying

	s.notify(s.eventLocked(SubsystemPlayer))
	return nil
}

// Skip drops count entries starting with the current one and starts the new
// current, if any. Skipping more than the queue holds empties it.
// It returns the number of entries dropped.
func (s *Session) Skip(ctx context.Context, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}
	if count < 1 {
		return 0, errs.Newf(errs.KindInvalidArgument, "skip", "count must be at least 1, got %d", count)
	}

	return s.advanceLocked(ctx, count, true)
}

// Stop stops playback completely and clears the queue (cannot be resumed,
// unlike Pause). The connection stays open.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state == StateStopped {
		return nil
	}

	s.logger.Info("Stopping playback", zap.Int("dropped", s.queue.Len()))
	if err := s.conn.Stop(); err != nil {
		return errs.Transport("stop", err)
	}
	s.queue.Clear()
	s.state = StateStopped

	s.notify(s.eventLocked(SubsystemPlaylist))
	s.notify(s.eventLocked(SubsystemPlayer))
	return nil
}
