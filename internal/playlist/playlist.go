package playlist

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/disconic/disconic/internal/errs"
)

// StreamLocator identifies a track's audio for the transport. Its format is
// owned by the catalog; the queue never looks inside it.
type StreamLocator string

// Track describes one song. It is an immutable value.
type Track struct {
	Title    string
	Artist   string
	Album    string
	Locator  StreamLocator
	Duration time.Duration
}

// Album is a catalog album with its tracks in disc order
type Album struct {
	Name   string
	Artist string
	Tracks []Track
}

// Entry is a track placed in a queue, associated with who asked for it
type Entry struct {
	ID          string
	Track       Track
	RequestedBy string
	EnqueuedAt  time.Time
}

// NewEntry wraps a track in a fresh queue entry
func NewEntry(track Track, requestedBy string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Track:       track,
		RequestedBy: requestedBy,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Queue is the ordered play order of one group.
// Position 0 is the current entry; positions >= 1 are pending.
type Queue struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewQueue creates a new empty queue
func NewQueue() *Queue {
	return &Queue{
		entries: make([]Entry, 0),
	}
}

// Enqueue appends entries and returns the 1-based display position of the
// last one. Appending nothing returns the current length.
func (q *Queue) Enqueue(entries ...Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entries...)
	return len(q.entries)
}

// Current returns the entry at position 0
func (q *Queue) Current() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Snapshot returns a copy of all entries in play order
func (q *Queue) Snapshot() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	// Return a copy to prevent external modification
	entries := make([]Entry, len(q.entries))
	copy(entries, q.entries)
	return entries
}

// RemoveAt removes the entry at a 0-based position.
// Later entries shift down by one. The queue is unchanged on failure.
func (q *Queue) RemoveAt(position int) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 0 || position >= len(q.entries) {
		return Entry{}, errs.Newf(errs.KindNotFound, "remove",
			"no entry at position %d (queue has %d)", position, len(q.entries))
	}

	removed := q.entries[position]
	q.entries = append(q.entries[:position], q.entries[position+1:]...)
	return removed, nil
}

// Advance drops the current entry and returns the new current, if any
func (q *Queue) Advance() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.dropLocked(1)
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Drop advances up to n times and reports how many entries were dropped
func (q *Queue) Drop(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropLocked(n)
}

func (q *Queue) dropLocked(n int) int {
	if n <= 0 {
		return 0
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	// Zero the dropped slots so the backing array doesn't pin them
	for i := 0; i < n; i++ {
		q.entries[i] = Entry{}
	}
	q.entries = q.entries[n:]
	return n
}

// Clear removes all entries
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make([]Entry, 0)
}

// Len returns the number of entries, current included
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
