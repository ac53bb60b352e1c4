// Package bot is the Discord front-end: it turns slash commands (and
// optionally prefixed chat messages) into coordinator intents and renders
// the results.
package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/coordinator"
)

// Executor runs intents
type Executor interface {
	Execute(ctx context.Context, in coordinator.Intent) (coordinator.Result, error)
}

// Options configure a Bot
type Options struct {
	// Register commands in this guild only; global when empty
	GuildID string
	// Text command prefix; text commands are ignored when empty
	Prefix string
	// Upper bound for one command, including catalog lookups and joining
	CommandTimeout time.Duration
	// Runs once ctx is done, while the gateway is still open. Voice
	// connections need the gateway to say goodbye.
	OnShutdown func()
	Logger     *zap.Logger
}

// Bot dispatches Discord commands to an Executor
type Bot struct {
	session *discordgo.Session
	exec    Executor
	opts    Options
	logger  *zap.Logger

	ctx context.Context
}

// New creates a bot on an unopened session
func New(s *discordgo.Session, exec Executor, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}

	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if opts.Prefix != "" {
		s.Identify.Intents |= discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	}

	return &Bot{
		session: s,
		exec:    exec,
		opts:    opts,
		logger:  opts.Logger.Named("bot"),
		ctx:     context.Background(),
	}
}

// Run connects to the gateway, registers the commands and serves them until
// ctx is done
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteraction)
	if b.opts.Prefix != "" {
		b.session.AddHandler(b.onMessage)
	}

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}
	defer b.session.Close()

	if err := b.registerCommands(); err != nil {
		return err
	}

	<-ctx.Done()
	if b.opts.OnShutdown != nil {
		b.opts.OnShutdown()
	}
	b.logger.Info("Disconnecting from discord")
	return nil
}

func (b *Bot) registerCommands() error {
	if b.session.State == nil || b.session.State.User == nil {
		return errors.New("discord session has no user")
	}
	created, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.opts.GuildID, Commands())
	if err != nil {
		return errors.Wrap(err, "failed to register commands")
	}

	scope := "global"
	if b.opts.GuildID != "" {
		scope = b.opts.GuildID
	}
	b.logger.Info("Registered commands", zap.Int("count", len(created)), zap.String("scope", scope))
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Connected to discord", zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds)))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		b.reply(s, i, "This command only works in a server")
		return
	}

	in, err := IntentFromCommand(i.ApplicationCommandData())
	if err != nil {
		b.reply(s, i, RenderError(err))
		return
	}
	b.fill(&in, s, i.GuildID, i.Member.User)

	// Catalog lookups and voice joins may exceed the 3s acknowledgement window
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		b.logger.Warn("Failed to acknowledge interaction", zap.Error(err))
		return
	}

	content := b.run(in)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Warn("Failed to send reply", zap.String("command", in.Kind.String()), zap.Error(err))
	}
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	name, rest, ok := ParseText(b.opts.Prefix, m.Content)
	if !ok {
		return
	}

	var content string
	in, err := IntentFromText(name, rest)
	if err != nil {
		content = RenderError(err)
	} else {
		b.fill(&in, s, m.GuildID, m.Author)
		content = b.run(in)
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		b.logger.Warn("Failed to send reply", zap.String("command", name), zap.Error(err))
	}
}

// fill completes an intent with where and by whom it was issued
func (b *Bot) fill(in *coordinator.Intent, s *discordgo.Session, guildID string, user *discordgo.User) {
	in.GuildID = guildID
	in.RequestedBy = user.Username
	if vs, err := s.State.VoiceState(guildID, user.ID); err == nil {
		in.ChannelHint = vs.ChannelID
	}
}

func (b *Bot) run(in coordinator.Intent) string {
	ctx, cancel := context.WithTimeout(b.ctx, b.opts.CommandTimeout)
	defer cancel()

	res, err := b.exec.Execute(ctx, in)
	if err != nil {
		return RenderError(err)
	}
	return Render(res)
}

func (b *Bot) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Warn("Failed to reply", zap.Error(err))
	}
}
