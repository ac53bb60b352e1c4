package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/disconic/disconic/internal/errs"
)

// ACK error codes, as in MPD
const (
	ackErrorArg        = 2
	ackErrorUnknown    = 5
	ackErrorNoExist    = 50
	ackErrorSystem     = 52
	ackErrorPlayerSync = 55
)

// ack formats a protocol error for the command at position listNum of a
// command list
func ack(code, listNum int, command, msg string) string {
	return fmt.Sprintf("ACK [%d@%d] {%s} %s\n", code, listNum, command, msg)
}

// ackFor maps a command error to its ACK line
func ackFor(err error, listNum int, command string) string {
	code := ackErrorSystem
	switch errs.KindOf(err) {
	case errs.KindNotInSession, errs.KindNotFound:
		code = ackErrorNoExist
	case errs.KindInvalidState:
		code = ackErrorPlayerSync
	case errs.KindNoChannel, errs.KindInvalidArgument:
		code = ackErrorArg
	}
	return ack(code, listNum, command, err.Error())
}

// splitCommand splits a request line into the lower-cased command and its
// arguments. Arguments may be double-quoted with backslash escapes.
func splitCommand(line string) (string, []string, error) {
	var fields []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] == '"' {
			end := closingQuote(rest)
			if end < 0 {
				return "", nil, errors.New("missing closing quote")
			}
			arg, err := strconv.Unquote(rest[:end+1])
			if err != nil {
				return "", nil, errors.Wrap(err, "bad quoted argument")
			}
			fields = append(fields, arg)
			rest = strings.TrimSpace(rest[end+1:])
			continue
		}
		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			fields = append(fields, rest)
			break
		}
		fields = append(fields, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	if len(fields) == 0 {
		return "", nil, errors.New("empty command")
	}
	return strings.ToLower(fields[0]), fields[1:], nil
}

// closingQuote returns the index of the quote ending the string opened at
// s[0], or -1
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// parseInt parses a numeric argument
func parseInt(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errs.Newf(errs.KindInvalidArgument, "", "%q is not a number", arg)
	}
	return n, nil
}
