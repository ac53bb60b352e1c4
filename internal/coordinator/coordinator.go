// Package coordinator executes parsed user commands against the per-guild
// voice sessions.
//
// Catalog lookups run before any session lock is taken. Everything that
// touches a session goes through one whole-operation Session method, so the
// coordinator never mutates a queue or a connection itself.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/history"
	"github.com/disconic/disconic/internal/player"
	"github.com/disconic/disconic/internal/playlist"
)

const (
	// maxEnqueueAttempts bounds retries when a leave or disconnect closed the
	// session between lookup and enqueue
	maxEnqueueAttempts = 3

	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Catalog resolves search queries to tracks
type Catalog interface {
	SearchSong(ctx context.Context, query string) (playlist.Track, error)
	SearchAlbum(ctx context.Context, query string) (playlist.Album, error)
	RandomSong(ctx context.Context) (playlist.Track, error)
}

// HistoryReader lists recently played tracks
type HistoryReader interface {
	Recent(ctx context.Context, guildID string, limit int) ([]history.Play, error)
}

// Observer is told about every executed command
type Observer interface {
	ObserveCommand(intent string, kind errs.Kind, err error, elapsed time.Duration)
}

// Coordinator maps intents to session operations
type Coordinator struct {
	registry *player.Registry
	catalog  Catalog
	history  HistoryReader // nil disables the history command
	observer Observer
	logger   *zap.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithHistory enables the history command
func WithHistory(h HistoryReader) Option {
	return func(c *Coordinator) { c.history = h }
}

// WithObserver reports every command to o
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// New creates a coordinator
func New(registry *player.Registry, catalog Catalog, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		registry: registry,
		catalog:  catalog,
		logger:   logger.Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the session registry the coordinator drives
func (c *Coordinator) Registry() *player.Registry {
	return c.registry
}

// Execute runs one intent. Errors are *errs.Error values annotated with the
// guild.
func (c *Coordinator) Execute(ctx context.Context, in Intent) (Result, error) {
	start := time.Now()
	res, err := c.execute(ctx, in)
	res.Kind = in.Kind
	res.GuildID = in.GuildID
	err = errs.WithGuild(err, in.GuildID)

	kind := errs.KindOf(err)
	if c.observer != nil {
		c.observer.ObserveCommand(in.Kind.String(), kind, err, time.Since(start))
	}

	fields := []zap.Field{
		zap.String("intent", in.Kind.String()),
		zap.String("guild", in.GuildID),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		c.logger.Debug("Command executed", fields...)
	case kind == errs.KindTransport || kind == errs.KindUnknown:
		c.logger.Error("Command failed", append(fields, zap.Error(err))...)
	default:
		c.logger.Debug("Command rejected", append(fields, zap.Error(err))...)
	}
	return res, err
}

func (c *Coordinator) execute(ctx context.Context, in Intent) (Result, error) {
	op := in.Kind.String()
	switch in.Kind {
	case IntentJoin:
		s, err := c.registry.GetOrCreate(ctx, in.GuildID, in.ChannelHint)
		if err != nil {
			return Result{}, err
		}
		return Result{View: s.View()}, nil

	case IntentLeave:
		s, err := c.session(op, in.GuildID)
		if err != nil {
			return Result{}, err
		}
		return Result{}, s.Leave()

	case IntentSong:
		query := strings.TrimSpace(in.Query)
		if query == "" {
			return Result{}, errs.New(errs.KindInvalidArgument, op, "search query is empty")
		}
		track, err := c.catalog.SearchSong(ctx, query)
		if err != nil {
			return Result{}, c.catalogError(op, err)
		}
		return c.enqueue(ctx, in, []playlist.Track{track})

	case IntentAlbum:
		query := strings.TrimSpace(in.Query)
		if query == "" {
			return Result{}, errs.New(errs.KindInvalidArgument, op, "search query is empty")
		}
		album, err := c.catalog.SearchAlbum(ctx, query)
		if err != nil {
			return Result{}, c.catalogError(op, err)
		}
		if len(album.Tracks) == 0 {
			return Result{}, errs.Newf(errs.KindNotFound, op, "album %q has no songs", album.Name)
		}
		res, err := c.enqueue(ctx, in, album.Tracks)
		if err == nil {
			res.Album = &album
		}
		return res, err

	case IntentRandom:
		track, err := c.catalog.RandomSong(ctx)
		if err != nil {
			return Result{}, c.catalogError(op, err)
		}
		return c.enqueue(ctx, in, []playlist.Track{track})

	case IntentPause:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			return Result{}, s.Pause()
		})

	case IntentResume:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			return Result{}, s.Resume()
		})

	case IntentSkip:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			n, err := s.Skip(ctx, in.Count)
			return Result{Skipped: n}, err
		})

	case IntentRemove:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			removed, err := s.RemoveAt(ctx, in.Position)
			if removed.ID == "" {
				return Result{}, err
			}
			return Result{Removed: &removed}, err
		})

	case IntentStop:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			return Result{}, s.Stop()
		})

	case IntentQueue, IntentNowPlaying:
		return c.withSession(op, in.GuildID, func(s *player.Session) (Result, error) {
			return Result{}, nil
		})

	case IntentHistory:
		if c.history == nil {
			return Result{}, errs.New(errs.KindInvalidState, op, "play history is disabled")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		plays, err := c.history.Recent(ctx, in.GuildID, limit)
		if err != nil {
			return Result{}, errs.Wrap(errs.KindUnknown, op, err)
		}
		return Result{History: plays}, nil
	}

	return Result{}, errs.Newf(errs.KindInvalidArgument, op, "unsupported command %d", int(in.Kind))
}

// enqueue appends tracks to the guild's session, joining the caller's
// channel first if there is no session yet
func (c *Coordinator) enqueue(ctx context.Context, in Intent, tracks []playlist.Track) (Result, error) {
	entries := make([]playlist.Entry, 0, len(tracks))
	for _, t := range tracks {
		entries = append(entries, playlist.NewEntry(t, in.RequestedBy))
	}

	for attempt := 0; attempt < maxEnqueueAttempts; attempt++ {
		s := c.registry.Acquire(in.GuildID)
		pos, err := s.Enqueue(ctx, in.ChannelHint, entries...)
		if errors.Is(err, player.ErrSessionClosed) {
			c.logger.Debug("Session closed before enqueue, retrying",
				zap.String("guild", in.GuildID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Added: entries, Position: pos, View: s.View()}, nil
	}
	return Result{}, errs.New(errs.KindTransport, in.Kind.String(), "voice session kept closing")
}

// session looks up the guild's session without creating one
func (c *Coordinator) session(op, guildID string) (*player.Session, error) {
	s, ok := c.registry.Get(guildID)
	if !ok {
		return nil, errs.New(errs.KindNotInSession, op, "not connected to a voice channel")
	}
	return s, nil
}

// withSession runs fn on the guild's session and attaches the view after it
func (c *Coordinator) withSession(op, guildID string, fn func(*player.Session) (Result, error)) (Result, error) {
	s, err := c.session(op, guildID)
	if err != nil {
		return Result{}, err
	}
	res, err := fn(s)
	if errors.Is(err, player.ErrSessionClosed) {
		return Result{}, errs.New(errs.KindNotInSession, op, "not connected to a voice channel")
	}
	res.View = s.View()
	return res, err
}

// catalogError passes kinded catalog errors through unchanged and classifies
// the rest as transport failures
func (c *Coordinator) catalogError(op string, err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Wrap(errs.KindTransport, op, err)
}
