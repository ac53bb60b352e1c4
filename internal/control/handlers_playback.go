package control

import (
	"context"
	"fmt"

	"github.com/disconic/disconic/internal/coordinator"
)

// simple returns a handler for commands that only need the guild
func (s *Server) simple(kind coordinator.IntentKind) guildHandler {
	return func(ctx context.Context, guildID string, _ []string) (string, error) {
		_, err := s.exec(ctx, coordinator.Intent{Kind: kind, GuildID: guildID})
		return "", err
	}
}

// cmdJoin handles 'join GUILD CHANNEL'
func (s *Server) cmdJoin(ctx context.Context, guildID string, args []string) (string, error) {
	res, err := s.exec(ctx, coordinator.Intent{
		Kind:        coordinator.IntentJoin,
		GuildID:     guildID,
		ChannelHint: args[0],
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("channel: %s\n", res.View.ChannelID), nil
}

// cmdSkip handles 'skip GUILD [COUNT]' and 'next GUILD'
func (s *Server) cmdSkip(ctx context.Context, guildID string, args []string) (string, error) {
	in := coordinator.Intent{Kind: coordinator.IntentSkip, GuildID: guildID, Count: 1}
	if len(args) > 0 {
		n, err := parseInt(args[0])
		if err != nil {
			return "", err
		}
		in.Count = n
	}

	res, err := s.exec(ctx, in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("skipped: %d\n", res.Skipped), nil
}
