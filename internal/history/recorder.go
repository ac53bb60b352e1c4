package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/player"
)

// Recorder writes every track start published by the session registry to a
// Store. Notify never blocks; plays are written by Run.
type Recorder struct {
	store  *Store
	plays  chan Play
	logger *zap.Logger
}

// NewRecorder creates a recorder buffering up to buffer pending plays
func NewRecorder(store *Store, logger *zap.Logger, buffer int) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 64
	}
	return &Recorder{
		store:  store,
		plays:  make(chan Play, buffer),
		logger: logger.Named("history"),
	}
}

// Notify is a player.Notifier
func (r *Recorder) Notify(ev player.Event) {
	if ev.Started == nil {
		return
	}
	e := ev.Started
	p := Play{
		GuildID:     ev.GuildID,
		Title:       e.Track.Title,
		Artist:      e.Track.Artist,
		Album:       e.Track.Album,
		Locator:     string(e.Track.Locator),
		RequestedBy: e.RequestedBy,
		PlayedAt:    time.Now(),
	}
	select {
	case r.plays <- p:
	default:
		r.logger.Warn("History buffer full, dropping play",
			zap.String("guild", ev.GuildID), zap.String("title", p.Title))
	}
}

// Run writes buffered plays until ctx is done
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-r.plays:
			if err := r.store.Add(ctx, p); err != nil {
				r.logger.Warn("Failed to record play", zap.Error(err))
			}
		}
	}
}
