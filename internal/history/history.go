// Package history keeps a log of the tracks each guild played in SQLite.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// Play is one track that started streaming
type Play struct {
	GuildID     string
	Title       string
	Artist      string
	Album       string
	Locator     string
	RequestedBy string
	PlayedAt    time.Time
}

// Store is a SQLite-backed play log
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the play log at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history database %s", path)
	}
	// One writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS plays (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id     TEXT NOT NULL,
		title        TEXT NOT NULL,
		artist       TEXT DEFAULT '',
		album        TEXT DEFAULT '',
		locator      TEXT DEFAULT '',
		requested_by TEXT DEFAULT '',
		played_at    INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create plays table")
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS plays_guild_time ON plays (guild_id, played_at)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create plays index")
	}

	return &Store{db: db}, nil
}

// Add appends a play
func (s *Store) Add(ctx context.Context, p Play) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PlayedAt.IsZero() {
		p.PlayedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO plays (guild_id, title, artist, album, locator, requested_by, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.GuildID, p.Title, p.Artist, p.Album, p.Locator, p.RequestedBy, p.PlayedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "failed to record play")
	}
	return nil
}

// Recent returns up to limit plays of a guild, newest first
func (s *Store) Recent(ctx context.Context, guildID string, limit int) ([]Play, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, title, artist, album, locator, requested_by, played_at
		FROM plays WHERE guild_id = ? ORDER BY played_at DESC, id DESC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query plays")
	}
	defer rows.Close()

	var result []Play
	for rows.Next() {
		var p Play
		var playedAt int64
		if err := rows.Scan(&p.GuildID, &p.Title, &p.Artist, &p.Album, &p.Locator, &p.RequestedBy, &playedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan play")
		}
		p.PlayedAt = time.UnixMilli(playedAt).UTC()
		result = append(result, p)
	}
	return result, errors.Wrap(rows.Err(), "failed to read plays")
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
