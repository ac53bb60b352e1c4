package backends

import (
	"context"
	"io"

	"github.com/disconic/disconic/internal/playlist"
)

// Transport opens voice connections for a guild
type Transport interface {
	// Connect joins the given voice channel. Notifications for the returned
	// connection are delivered to l.
	Connect(ctx context.Context, guildID, channelID string, l Listener) (Connection, error)
}

// Connection is a live voice connection owned by exactly one session.
// Callers serialize access; implementations need not be safe for concurrent use
// by more than one caller, but must tolerate their own notification goroutines.
type Connection interface {
	// Track playback. ctx bounds starting the stream, not the stream itself.
	// Pause and Resume do nothing when no stream runs.
	Play(ctx context.Context, entryID string, locator playlist.StreamLocator) error // Start streaming; replaces any current stream
	Pause() error
	Resume() error
	Stop() error // Stop the current stream; no TrackFinished is reported for it

	// Connection lifecycle
	Close() error // Leave the channel and release resources; idempotent
	ChannelID() string
}

// Listener receives asynchronous notifications from a connection.
// Implementations call it from their own goroutines, never while holding a
// lock that a Connection method may wait on.
type Listener interface {
	// TrackFinished reports that the stream started for entryID ended naturally
	TrackFinished(conn Connection, entryID string)
	// Disconnected reports that the connection is gone (kicked, idle timeout,
	// network failure). The connection must not be used afterwards.
	Disconnected(conn Connection, reason error)
}

// StreamOpener resolves a locator to an encoded audio byte stream. The
// returned reader may stop working once ctx is done.
type StreamOpener interface {
	Open(ctx context.Context, locator playlist.StreamLocator) (io.ReadCloser, error)
}
