package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/disconic/disconic/internal/coordinator"
)

// cmdSessions lists every live session
func (s *Server) cmdSessions() string {
	var b strings.Builder
	for _, sess := range s.coord.Registry().Sessions() {
		writeView(&b, sess.View())
	}
	b.WriteString("OK\n")
	return b.String()
}

// cmdStatus handles 'status GUILD'
func (s *Server) cmdStatus(ctx context.Context, guildID string, _ []string) (string, error) {
	res, err := s.exec(ctx, coordinator.Intent{Kind: coordinator.IntentQueue, GuildID: guildID})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeView(&b, res.View)
	if cur := res.View.Current; cur != nil {
		b.WriteString("song: 0\n")
		fmt.Fprintf(&b, "songid: %s\n", cur.ID)
		if len(res.View.Pending) > 0 {
			b.WriteString("nextsong: 1\n")
			fmt.Fprintf(&b, "nextsongid: %s\n", res.View.Pending[0].ID)
		}
	}
	return b.String(), nil
}

// cmdPlaylistInfo handles 'playlistinfo GUILD'
func (s *Server) cmdPlaylistInfo(ctx context.Context, guildID string, _ []string) (string, error) {
	res, err := s.exec(ctx, coordinator.Intent{Kind: coordinator.IntentQueue, GuildID: guildID})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if cur := res.View.Current; cur != nil {
		writeEntry(&b, 0, *cur)
	}
	for i, e := range res.View.Pending {
		writeEntry(&b, i+1, e)
	}
	return b.String(), nil
}

// cmdCurrentSong handles 'currentsong GUILD'
func (s *Server) cmdCurrentSong(ctx context.Context, guildID string, _ []string) (string, error) {
	res, err := s.exec(ctx, coordinator.Intent{Kind: coordinator.IntentNowPlaying, GuildID: guildID})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if cur := res.View.Current; cur != nil {
		writeEntry(&b, 0, *cur)
	}
	return b.String(), nil
}

// cmdHistory handles 'history GUILD [LIMIT]'
func (s *Server) cmdHistory(ctx context.Context, guildID string, args []string) (string, error) {
	in := coordinator.Intent{Kind: coordinator.IntentHistory, GuildID: guildID}
	if len(args) > 0 {
		n, err := parseInt(args[0])
		if err != nil {
			return "", err
		}
		in.Limit = n
	}

	res, err := s.exec(ctx, in)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range res.History {
		fmt.Fprintf(&b, "file: %s\n", p.Locator)
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
		if p.Artist != "" {
			fmt.Fprintf(&b, "Artist: %s\n", p.Artist)
		}
		if p.Album != "" {
			fmt.Fprintf(&b, "Album: %s\n", p.Album)
		}
		if p.RequestedBy != "" {
			fmt.Fprintf(&b, "RequestedBy: %s\n", p.RequestedBy)
		}
		fmt.Fprintf(&b, "PlayedAt: %s\n", p.PlayedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return b.String(), nil
}
