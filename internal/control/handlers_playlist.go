package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/disconic/disconic/internal/coordinator"
)

// enqueue returns the handler for 'add', 'addalbum' and 'addrandom':
// CMD GUILD CHANNEL [QUERY...]
func (s *Server) enqueue(kind coordinator.IntentKind) guildHandler {
	return func(ctx context.Context, guildID string, args []string) (string, error) {
		res, err := s.exec(ctx, coordinator.Intent{
			Kind:        kind,
			GuildID:     guildID,
			ChannelHint: args[0],
			Query:       strings.Join(args[1:], " "),
		})
		if err != nil {
			return "", err
		}

		var b strings.Builder
		for _, e := range res.Added {
			fmt.Fprintf(&b, "Id: %s\n", e.ID)
		}
		fmt.Fprintf(&b, "Pos: %d\n", res.Position-1)
		return b.String(), nil
	}
}

// cmdDelete handles 'delete GUILD POS'. Positions are 0-based; 0 removes
// the current song and starts the next one.
func (s *Server) cmdDelete(ctx context.Context, guildID string, args []string) (string, error) {
	pos, err := parseInt(args[0])
	if err != nil {
		return "", err
	}

	res, err := s.exec(ctx, coordinator.Intent{Kind: coordinator.IntentRemove, GuildID: guildID, Position: pos})
	if err != nil {
		return "", err
	}
	if res.Removed == nil {
		return "", nil
	}
	return fmt.Sprintf("Id: %s\n", res.Removed.ID), nil
}
