package control

import (
	"context"
	"fmt"

	"github.com/disconic/disconic/internal/coordinator"
)

// requester is recorded as the requester of tracks queued from here
const requester = "control"

// handleCommand processes a single control command
func (s *Server) handleCommand(ctx context.Context, command string, args []string, listNum int) string {
	switch command {
	case "ping":
		return "OK\n"

	case "sessions":
		return s.cmdSessions()

	case "status":
		return s.guildCommand(ctx, command, args, listNum, 0, s.cmdStatus)

	case "playlistinfo", "queue":
		return s.guildCommand(ctx, command, args, listNum, 0, s.cmdPlaylistInfo)

	case "currentsong":
		return s.guildCommand(ctx, command, args, listNum, 0, s.cmdCurrentSong)

	case "history":
		return s.guildCommand(ctx, command, args, listNum, 0, s.cmdHistory)

	case "join":
		return s.guildCommand(ctx, command, args, listNum, 1, s.cmdJoin)

	case "leave":
		return s.guildCommand(ctx, command, args, listNum, 0, s.simple(coordinator.IntentLeave))

	case "pause":
		return s.guildCommand(ctx, command, args, listNum, 0, s.simple(coordinator.IntentPause))

	case "play", "resume":
		return s.guildCommand(ctx, command, args, listNum, 0, s.simple(coordinator.IntentResume))

	case "stop", "clear":
		return s.guildCommand(ctx, command, args, listNum, 0, s.simple(coordinator.IntentStop))

	case "next", "skip":
		return s.guildCommand(ctx, command, args, listNum, 0, s.cmdSkip)

	case "delete", "remove":
		return s.guildCommand(ctx, command, args, listNum, 1, s.cmdDelete)

	case "add":
		return s.guildCommand(ctx, command, args, listNum, 2, s.enqueue(coordinator.IntentSong))

	case "addalbum":
		return s.guildCommand(ctx, command, args, listNum, 2, s.enqueue(coordinator.IntentAlbum))

	case "addrandom":
		return s.guildCommand(ctx, command, args, listNum, 1, s.enqueue(coordinator.IntentRandom))

	case "idle", "noidle", "close":
		return ack(ackErrorArg, listNum, command, "not allowed in a command list")

	default:
		return ack(ackErrorUnknown, listNum, command, fmt.Sprintf("unknown command %q", command))
	}
}

// guildHandler runs a command for one guild; args exclude the guild
type guildHandler func(ctx context.Context, guildID string, args []string) (string, error)

// guildCommand checks the guild argument and at least minArgs more, runs h
// and turns its error into an ACK
func (s *Server) guildCommand(ctx context.Context, command string, args []string, listNum, minArgs int, h guildHandler) string {
	if len(args) < 1+minArgs {
		return ack(ackErrorArg, listNum, command, "wrong number of arguments")
	}
	out, err := h(ctx, args[0], args[1:])
	if err != nil {
		return ackFor(err, listNum, command)
	}
	return out + "OK\n"
}

func (s *Server) exec(ctx context.Context, in coordinator.Intent) (coordinator.Result, error) {
	in.RequestedBy = requester
	return s.coord.Execute(ctx, in)
}
