// Package bot is the chat-platform delivery layer: it owns the gateway
// session and translates messages and gateway events into application
// service calls.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/chat"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/music"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/welcome"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/config"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/lavalink"
)

const commandTimeout = 2 * time.Minute

// Deps are the application services the bot dispatches to.
type Deps struct {
	Music      *music.Service
	Chat       *chat.Service
	Node       *lavalink.Client
	Renderer   *welcome.Renderer
	Background *welcome.SourceChain
	Library    *welcome.Library
}

// Bot connects the gateway session to the application services.
type Bot struct {
	session *discordgo.Session
	cfg     *config.Config
	deps    Deps

	startedAt time.Time
	done      chan struct{}

	mu sync.Mutex
	// Last channel a music command came from, for playback announcements.
	musicChannels map[string]string
}

// New builds the bot around an authenticated session. The session is
// not opened yet; call Bind and then Start.
func New(cfg *config.Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway session")
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	b := &Bot{
		session:       session,
		cfg:           cfg,
		startedAt:     time.Now(),
		done:          make(chan struct{}),
		musicChannels: make(map[string]string),
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onGuildMemberAdd)
	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onVoiceServerUpdate)

	return b, nil
}

// Bind attaches the application services. The music transport needs
// the session, which only exists after New, so wiring happens in two
// steps.
func (b *Bot) Bind(deps Deps) {
	b.deps = deps
}

// Session exposes the gateway session for transport wiring.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Start opens the gateway connection and routes track end events into
// the music service. The audio node is dialed separately once the bot
// user ID is known.
func (b *Bot) Start() error {
	if b.deps.Node != nil {
		b.deps.Node.OnTrackEnd(b.onTrackEnd)
	}
	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open gateway connection")
	}
	if b.cfg.Announcement.Enabled() {
		go b.announceLoop()
	}
	return nil
}

// Stop closes the node link and the gateway session.
func (b *Bot) Stop() {
	close(b.done)
	if b.deps.Node != nil {
		b.deps.Node.Close()
	}
	if err := b.session.Close(); err != nil {
		zlog.Warn().Msgf("bot: failed to close gateway session: %v", err)
	}
}

// UserID returns the bot's own user ID once the session is open.
func (b *Bot) UserID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

func (b *Bot) rememberMusicChannel(guildID, channelID string) {
	b.mu.Lock()
	b.musicChannels[guildID] = channelID
	b.mu.Unlock()
}

func (b *Bot) musicChannel(guildID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.musicChannels[guildID]
}

// onTrackEnd is invoked from the node's read loop; playback advance
// happens on a fresh goroutine so a slow REST call cannot stall event
// delivery.
func (b *Bot) onTrackEnd(guildID, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		next, err := b.deps.Music.OnTrackEnd(ctx, guildID, music.ParseEndReason(reason))
		if err != nil {
			zlog.Error().Msgf("bot: failed to advance playback: guild=%s error=%v", guildID, err)
			return
		}
		if next == nil {
			return
		}

		if channelID := b.musicChannel(guildID); channelID != "" {
			b.sendNowPlaying(channelID, next)
		}
	}()
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		zlog.Warn().Msgf("bot: failed to send message: channel=%s error=%v", channelID, err)
	}
}
