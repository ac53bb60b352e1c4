package player

import (
	"context"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
)

// advanceLocked drops up to count entries from the front and starts whatever
// is current afterwards. Explicit skips, removal of the current entry and
// natural end of track all go through here.
// stopCurrent asks the transport to stop the running stream first; a stream
// that already ended on its own needs no stop.
func (s *Session) advanceLocked(ctx context.Context, count int, stopCurrent bool) (int, error) {
	if s.queue.Len() == 0 {
		return 0, nil
	}

	if stopCurrent && s.state != StateStopped {
		if err := s.conn.Stop(); err != nil {
			return 0, errs.Transport("skip", err)
		}
	}

	dropped := s.queue.Drop(count)
	s.logger.Debug("Advanced queue", zap.Int("dropped", dropped), zap.Int("left", s.queue.Len()))
	s.notify(s.eventLocked(SubsystemPlaylist))

	return dropped, s.startCurrentLocked(ctx)
}

// startCurrentLocked streams the current entry. Entries that fail to start
// are dropped and the next one is tried. When nothing could be started the
// session ends up Stopped with an empty queue and the first failure is
// returned.
func (s *Session) startCurrentLocked(ctx context.Context) error {
	var firstErr error
	for {
		cur, ok := s.queue.Current()
		if !ok {
			wasStopped := s.state == StateStopped
			s.state = StateStopped
			if !wasStopped {
				s.logger.Info("Queue finished, playback stopped")
				s.notify(s.eventLocked(SubsystemPlayer))
			}
			return firstErr
		}

		err := s.conn.Play(ctx, cur.ID, cur.Track.Locator)
		if err == nil {
			s.state = StatePlaying
			s.logger.Info("Playing track",
				zap.String("title", cur.Track.Title),
				zap.String("artist", cur.Track.Artist),
				zap.String("entry", cur.ID))

			ev := s.eventLocked(SubsystemPlayer)
			ev.Started = &cur
			s.notify(ev)
			return nil
		}

		s.logger.Warn("Failed to start track, dropping it",
			zap.String("title", cur.Track.Title), zap.Error(err))
		if firstErr == nil {
			firstErr = errs.Transport("play", err)
		}
		s.queue.Drop(1)
		s.notify(s.eventLocked(SubsystemPlaylist))
	}
}
