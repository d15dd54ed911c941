package bot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/welcome"
)

func (b *Bot) onReady(s *discordgo.Session, e *discordgo.Ready) {
	zlog.Info().Msgf("bot: logged in as %s#%s (%d guilds)", e.User.Username, e.User.Discriminator, len(e.Guilds))
	if err := s.UpdateGameStatus(0, b.cfg.Discord.Prefix+"help"); err != nil {
		zlog.Warn().Msgf("bot: failed to set presence: %v", err)
	}
}

func (b *Bot) onGuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if b.cfg.Welcome.ChannelID == "" || b.deps.Renderer == nil || b.deps.Background == nil {
		return
	}
	if e.User == nil || e.User.Bot {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		memberCount := 0
		if guild, err := s.State.Guild(e.GuildID); err == nil {
			memberCount = guild.MemberCount
		}

		background := b.deps.Background.Background(ctx)
		card, err := b.deps.Renderer.Render(ctx, background, welcome.Profile{
			Username:    e.User.Username,
			AvatarURL:   e.User.AvatarURL("256"),
			MemberCount: memberCount,
		})
		if err != nil {
			zlog.Error().Msgf("bot: failed to render welcome card: guild=%s user=%s error=%v", e.GuildID, e.User.ID, err)
			return
		}

		_, err = s.ChannelMessageSendComplex(b.cfg.Welcome.ChannelID, &discordgo.MessageSend{
			Content: fmt.Sprintf("Welcome to the server, <@%s>!", e.User.ID),
			Files: []*discordgo.File{{
				Name:        "welcome.png",
				ContentType: "image/png",
				Reader:      bytes.NewReader(card),
			}},
		})
		if err != nil {
			zlog.Error().Msgf("bot: failed to send welcome card: channel=%s error=%v", b.cfg.Welcome.ChannelID, err)
		}
	}()
}

// onVoiceStateUpdate forwards the bot's own voice session to the audio
// node; other members' movements are irrelevant.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if b.deps.Node == nil || s.State.User == nil || e.UserID != s.State.User.ID {
		return
	}
	b.deps.Node.HandleVoiceStateUpdate(e.GuildID, e.SessionID, e.ChannelID)
}

func (b *Bot) onVoiceServerUpdate(s *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	if b.deps.Node == nil {
		return
	}
	b.deps.Node.HandleVoiceServerUpdate(e.GuildID, e.Token, e.Endpoint)
}
