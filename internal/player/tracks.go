package player

import (
	"context"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/playlist"
)

// Enqueue joins channelID if the session is not connected yet, appends the
// entries and starts playback when the session was stopped.
// Join and the first queue mutation happen under one lock hold, so of two
// concurrent first enqueues exactly one starts playback.
// It returns the display position of the last entry (current = 1).
func (s *Session) Enqueue(ctx context.Context, channelID string, entries ...playlist.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.joinLocked(ctx, channelID); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, errs.New(errs.KindInvalidArgument, "enqueue", "nothing to enqueue")
	}

	pos := s.queue.Enqueue(entries...)
	s.logger.Info("Added tracks to queue",
		zap.Int("count", len(entries)),
		zap.String("first", entries[0].Track.Title),
		zap.Int("position", pos))
	s.notify(s.eventLocked(SubsystemPlaylist))

	// Stopped implies an empty queue before this append
	if s.state == StateStopped {
		if err := s.startCurrentLocked(ctx); err != nil && s.queue.Len() == 0 {
			return 0, err
		}
	}
	// Entries that failed to start were dropped; report where the last one is now
	return s.queue.Len(), nil
}

// RemoveAt removes the entry at a 0-based position. Removing the current
// entry advances playback exactly like Skip(1).
func (s *Session) RemoveAt(ctx context.Context, position int) (playlist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return playlist.Entry{}, ErrSessionClosed
	}

	if position == 0 {
		cur, ok := s.queue.Current()
		if !ok {
			return playlist.Entry{}, errs.New(errs.KindNotFound, "remove", "queue is empty")
		}
		_, err := s.advanceLocked(ctx, 1, true)
		if next, ok := s.queue.Current(); ok && next.ID == cur.ID {
			// Stop failed, queue unchanged
			return playlist.Entry{}, err
		}
		// The entry is gone even if the next one failed to start
		return cur, err
	}

	removed, err := s.queue.RemoveAt(position)
	if err != nil {
		return playlist.Entry{}, err
	}
	s.logger.Info("Removed track from queue",
		zap.Int("position", position), zap.String("title", removed.Track.Title))
	s.notify(s.eventLocked(SubsystemPlaylist))
	return removed, nil
}
