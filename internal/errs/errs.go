// Package errs defines the error kinds returned by the session coordinator.
//
// Every failure surfaced to a front-end is an *Error carrying a Kind and
// enough context (operation, guild, detail) to render a message without
// re-deriving it. Kinds compare with errors.Is against the Err* sentinels.
package errs

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotInSession: the command needs an existing session and none was found.
	KindNotInSession
	// KindNoChannel: the caller gave no resolvable voice channel to join.
	KindNoChannel
	// KindInvalidState: the command is not valid in the current playback state.
	KindInvalidState
	// KindNotFound: queue position out of range, or empty catalog lookup.
	KindNotFound
	// KindTransport: connect/play/pause/stop failed in the transport.
	KindTransport
	// KindInvalidArgument: malformed command argument (count, position).
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindNotInSession:
		return "not in session"
	case KindNoChannel:
		return "no channel"
	case KindInvalidState:
		return "invalid state"
	case KindNotFound:
		return "not found"
	case KindTransport:
		return "transport error"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Error is the structured error type of the core.
type Error struct {
	Kind    Kind
	Op      string // command or operation name, e.g. "pause"
	GuildID string
	Detail  string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotInSession    = &Error{Kind: KindNotInSession}
	ErrNoChannel       = &Error{Kind: KindNoChannel}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches bare sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.GuildID != "" || t.Detail != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Newf creates an error of the given kind with a formatted detail.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transport wraps a transport failure.
func Transport(op string, err error) error {
	return Wrap(KindTransport, op, err)
}

// WithGuild returns err annotated with the guild if it is an *Error
// without one; other errors are returned unchanged.
func WithGuild(err error, guildID string) error {
	var e *Error
	if errors.As(err, &e) && e.GuildID == "" {
		cp := *e
		cp.GuildID = guildID
		return &cp
	}
	return err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
