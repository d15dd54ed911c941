package bot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/chat"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/music"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/welcome"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

const (
	queueDisplayLimit = 10
	// Gateway message edits are rate limited; streamed replies flush at
	// most this often.
	streamEditInterval = 1500 * time.Millisecond
	maxMessageLen      = 2000
)

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	prefix := b.cfg.Discord.Prefix
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	zlog.Debug().Msgf("bot: command: guild=%s user=%s command=%s", m.GuildID, m.Author.ID, command)

	switch command {
	case "join":
		b.handleJoin(s, m)
	case "leave", "disconnect":
		b.handleLeave(ctx, s, m)
	case "play", "p":
		b.handlePlay(ctx, s, m, strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(m.Content, prefix), fields[0])))
	case "pause":
		b.handlePause(ctx, m, true)
	case "resume":
		b.handlePause(ctx, m, false)
	case "skip", "s":
		b.handleSkip(ctx, m)
	case "stop":
		b.handleStop(ctx, m)
	case "queue", "q":
		b.handleQueue(m)
	case "np", "nowplaying":
		b.handleNowPlaying(m)
	case "shuffle":
		b.handleShuffle(m)
	case "volume", "vol":
		b.handleVolume(ctx, m, args)
	case "loop":
		b.handleLoop(m)
	case "lumos":
		b.handleLumos(ctx, s, m, strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(m.Content, prefix), fields[0])))
	case "memory":
		b.handleMemory(m, args)
	case "welcome":
		b.handleWelcomePreview(ctx, s, m, args)
	case "backgrounds", "bg":
		b.handleBackgrounds(ctx, s, m, args)
	case "help":
		b.handleHelp(m)
	case "ping":
		b.reply(m.ChannelID, fmt.Sprintf("Pong! Gateway latency: %dms", s.HeartbeatLatency().Milliseconds()))
	case "info":
		b.handleInfo(s, m)
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	if err := b.joinAuthorChannel(s, m); err != nil {
		b.reply(m.ChannelID, "Join a voice channel first, then ask me again.")
		return
	}
	b.reply(m.ChannelID, "Connected. Queue something with `"+b.cfg.Discord.Prefix+"play`.")
}

// joinAuthorChannel moves the bot into the author's voice channel by
// sending the gateway voice state update. The audio node picks up the
// resulting voice events.
func (b *Bot) joinAuthorChannel(s *discordgo.Session, m *discordgo.MessageCreate) error {
	vs, err := s.State.VoiceState(m.GuildID, m.Author.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return fmt.Errorf("author is not in a voice channel")
	}
	return s.ChannelVoiceJoinManual(m.GuildID, vs.ChannelID, false, true)
}

func (b *Bot) handleLeave(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if err := b.deps.Music.Leave(ctx, m.GuildID); err != nil {
		zlog.Warn().Msgf("bot: leave failed: guild=%s error=%v", m.GuildID, err)
		b.reply(m.ChannelID, "I could not leave cleanly, but I am gone.")
		return
	}
	b.reply(m.ChannelID, "Left the voice channel.")
}

func (b *Bot) handlePlay(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, query string) {
	if query == "" {
		b.reply(m.ChannelID, "Give me a song name or a link.")
		return
	}

	if err := b.joinAuthorChannel(s, m); err != nil {
		b.reply(m.ChannelID, "Join a voice channel first so I know where to play.")
		return
	}
	b.rememberMusicChannel(m.GuildID, m.ChannelID)

	res, err := b.deps.Music.ResolveRequest(ctx, query)
	if err != nil {
		zlog.Warn().Msgf("bot: resolve failed: guild=%s query=%q error=%v", m.GuildID, query, err)
		b.reply(m.ChannelID, "I could not load that. Try a different link or search.")
		return
	}
	if len(res.Tracks) == 0 {
		b.reply(m.ChannelID, "No matches for that request.")
		return
	}

	ctrl := b.deps.Music.Controller(m.GuildID)
	queued := ctrl.Enqueue(res.Tracks, &track.Requester{ID: m.Author.ID, Name: m.Author.Username})

	switch {
	case len(queued) == 1:
		b.reply(m.ChannelID, fmt.Sprintf("Queued **%s** [%s]", queued[0].Info.DisplayTitle(), queued[0].Info.FormatDuration()))
	case res.Skipped > 0:
		b.reply(m.ChannelID, fmt.Sprintf("Queued **%d** tracks (%d could not be found).", len(queued), res.Skipped))
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Queued **%d** tracks.", len(queued)))
	}

	if !ctrl.IsPlaying() {
		next, err := b.deps.Music.PlayNext(ctx, m.GuildID)
		if err != nil {
			zlog.Error().Msgf("bot: playback start failed: guild=%s error=%v", m.GuildID, err)
			b.reply(m.ChannelID, "Playback failed to start. The track was dropped from the queue.")
			return
		}
		if next != nil {
			b.sendNowPlaying(m.ChannelID, next)
		}
	}
}

func (b *Bot) handlePause(ctx context.Context, m *discordgo.MessageCreate, paused bool) {
	if b.deps.Node == nil {
		return
	}
	if !b.deps.Music.Controller(m.GuildID).IsPlaying() {
		b.reply(m.ChannelID, "Nothing is playing.")
		return
	}
	if err := b.deps.Node.Pause(ctx, m.GuildID, paused); err != nil {
		zlog.Warn().Msgf("bot: pause failed: guild=%s error=%v", m.GuildID, err)
		b.reply(m.ChannelID, "The player did not respond.")
		return
	}
	if paused {
		b.reply(m.ChannelID, "Paused.")
	} else {
		b.reply(m.ChannelID, "Resumed.")
	}
}

func (b *Bot) handleSkip(ctx context.Context, m *discordgo.MessageCreate) {
	if !b.deps.Music.Controller(m.GuildID).IsPlaying() {
		b.reply(m.ChannelID, "Nothing is playing.")
		return
	}
	b.rememberMusicChannel(m.GuildID, m.ChannelID)

	next, err := b.deps.Music.Skip(ctx, m.GuildID)
	if err != nil {
		zlog.Error().Msgf("bot: skip failed: guild=%s error=%v", m.GuildID, err)
		b.reply(m.ChannelID, "Could not skip that track.")
		return
	}
	if next == nil {
		b.reply(m.ChannelID, "Skipped. The queue is empty.")
		return
	}
	b.sendNowPlaying(m.ChannelID, next)
}

func (b *Bot) handleStop(ctx context.Context, m *discordgo.MessageCreate) {
	if err := b.deps.Music.Stop(ctx, m.GuildID); err != nil {
		zlog.Warn().Msgf("bot: stop failed: guild=%s error=%v", m.GuildID, err)
	}
	b.reply(m.ChannelID, "Stopped and cleared the queue.")
}

func (b *Bot) handleQueue(m *discordgo.MessageCreate) {
	ctrl := b.deps.Music.Controller(m.GuildID)
	current := ctrl.Current()
	upcoming := ctrl.QueueSnapshot()

	if current == nil && len(upcoming) == 0 {
		b.reply(m.ChannelID, "The queue is empty.")
		return
	}

	var sb strings.Builder
	if current != nil {
		fmt.Fprintf(&sb, "**Now playing:** %s [%s]\n", current.Info.DisplayTitle(), current.Info.FormatDuration())
	}
	for i, t := range upcoming {
		if i >= queueDisplayLimit {
			fmt.Fprintf(&sb, "... and %d more\n", len(upcoming)-queueDisplayLimit)
			break
		}
		fmt.Fprintf(&sb, "%d. %s [%s] (by %s)\n", i+1, t.Info.DisplayTitle(), t.Info.FormatDuration(), t.Requester.Mention())
	}
	b.reply(m.ChannelID, sb.String())
}

func (b *Bot) handleNowPlaying(m *discordgo.MessageCreate) {
	current := b.deps.Music.Controller(m.GuildID).Current()
	if current == nil {
		b.reply(m.ChannelID, "Nothing is playing.")
		return
	}
	b.sendNowPlaying(m.ChannelID, current)
}

func (b *Bot) handleShuffle(m *discordgo.MessageCreate) {
	ctrl := b.deps.Music.Controller(m.GuildID)
	if ctrl.QueueLen() < 2 {
		b.reply(m.ChannelID, "Not enough queued tracks to shuffle.")
		return
	}
	ctrl.Shuffle()
	b.reply(m.ChannelID, fmt.Sprintf("Shuffled %d tracks.", ctrl.QueueLen()))
}

func (b *Bot) handleVolume(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	ctrl := b.deps.Music.Controller(m.GuildID)
	if len(args) == 0 {
		b.reply(m.ChannelID, fmt.Sprintf("Volume is %d%%.", ctrl.Volume()))
		return
	}

	percent, err := strconv.Atoi(args[0])
	if err != nil {
		b.reply(m.ChannelID, fmt.Sprintf("Usage: `%svolume <0-%d>`", b.cfg.Discord.Prefix, music.MaxVolume))
		return
	}

	effective, err := b.deps.Music.SetVolume(ctx, m.GuildID, percent)
	if err != nil {
		zlog.Warn().Msgf("bot: volume change failed: guild=%s error=%v", m.GuildID, err)
		b.reply(m.ChannelID, "The player did not accept the volume change.")
		return
	}
	b.reply(m.ChannelID, fmt.Sprintf("Volume set to %d%%.", effective))
}

func (b *Bot) handleLoop(m *discordgo.MessageCreate) {
	if b.deps.Music.Controller(m.GuildID).ToggleLoop() {
		b.reply(m.ChannelID, "Looping the current track.")
	} else {
		b.reply(m.ChannelID, "Loop disabled.")
	}
}

func (b *Bot) sendNowPlaying(channelID string, t *music.Track) {
	b.reply(channelID, fmt.Sprintf("Now playing: **%s** [%s] (requested by %s)",
		t.Info.DisplayTitle(), t.Info.FormatDuration(), t.Requester.Mention()))
}

// handleLumos streams the model's reply into a single message,
// editing it as fragments arrive.
func (b *Bot) handleLumos(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, prompt string) {
	if b.deps.Chat == nil {
		return
	}

	attachments := imageAttachments(m)
	if prompt == "" && len(attachments) == 0 {
		b.reply(m.ChannelID, "Ask me something after the command.")
		return
	}

	// Attachment URLs are short-lived, so images are inlined as data
	// URLs before the exchange enters the conversation history.
	var images []string
	for _, att := range attachments {
		dataURL, err := fetchImageDataURL(ctx, att)
		if err != nil {
			zlog.Warn().Msgf("bot: skipping image attachment: url=%s error=%v", att, err)
			continue
		}
		images = append(images, dataURL)
	}

	if b.cfg.AI.RequestTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(b.cfg.AI.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	placeholder, err := s.ChannelMessageSend(m.ChannelID, "...")
	if err != nil {
		zlog.Warn().Msgf("bot: failed to send placeholder: channel=%s error=%v", m.ChannelID, err)
		return
	}

	limiter := rate.NewLimiter(rate.Every(streamEditInterval), 1)
	var accumulated strings.Builder

	reply, err := b.deps.Chat.Stream(ctx, m.Author.ID, prompt, images, func(delta string) {
		accumulated.WriteString(delta)
		if !limiter.Allow() {
			return
		}
		partial := clampMessage(accumulated.String())
		if partial == "" {
			return
		}
		if _, err := s.ChannelMessageEdit(m.ChannelID, placeholder.ID, partial); err != nil {
			zlog.Debug().Msgf("bot: stream edit failed: %v", err)
		}
	})
	if err != nil {
		if _, err := s.ChannelMessageEdit(m.ChannelID, placeholder.ID, chat.FallbackReply()); err != nil {
			zlog.Warn().Msgf("bot: failed to deliver fallback: %v", err)
		}
		return
	}

	if _, err := s.ChannelMessageEdit(m.ChannelID, placeholder.ID, clampMessage(reply)); err != nil {
		zlog.Warn().Msgf("bot: failed to deliver reply: %v", err)
	}
}

func (b *Bot) handleMemory(m *discordgo.MessageCreate, args []string) {
	if b.deps.Chat == nil {
		return
	}
	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "clear":
		if b.deps.Chat.ClearHistory(m.Author.ID) {
			b.reply(m.ChannelID, "Forgot our conversation.")
		} else {
			b.reply(m.ChannelID, "There was nothing to forget.")
		}
	case "show":
		history := b.deps.Chat.History(m.Author.ID)
		if len(history) == 0 {
			b.reply(m.ChannelID, "No conversation on record.")
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Remembering %d messages:\n", len(history))
		for _, msg := range history {
			line := msg.Content
			if line == "" && len(msg.ImageURLs) > 0 {
				line = "(image)"
			}
			if r := []rune(line); len(r) > 80 {
				line = string(r[:77]) + "..."
			}
			fmt.Fprintf(&sb, "- **%s**: %s\n", msg.Role, line)
		}
		b.reply(m.ChannelID, clampMessage(sb.String()))
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Usage: `%smemory [show|clear]`", b.cfg.Discord.Prefix))
	}
}

// handleWelcomePreview renders the welcome card for the command author
// so the background setup can be checked without a real join. An
// optional argument forces a specific library background or a random
// pick instead of the configured chain.
func (b *Bot) handleWelcomePreview(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if b.deps.Renderer == nil || b.deps.Background == nil {
		return
	}
	if !b.authorizeAdmin(s, m) {
		return
	}

	background := b.deps.Background.Background(ctx)
	if len(args) > 0 && b.deps.Library != nil {
		var img image.Image
		var err error
		if strings.EqualFold(args[0], "random") {
			img, err = b.deps.Library.Random()
		} else {
			img, err = b.deps.Library.Load(args[0])
		}
		if err != nil {
			b.reply(m.ChannelID, fmt.Sprintf("Could not load background: %v", err))
			return
		}
		background = img
	}

	b.sendCardPreview(ctx, s, m, background)
}

// sendCardPreview renders and posts a card for the command author over
// the given background.
func (b *Bot) sendCardPreview(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, background image.Image) {
	memberCount := 0
	if guild, err := s.State.Guild(m.GuildID); err == nil {
		memberCount = guild.MemberCount
	}

	card, err := b.deps.Renderer.Render(ctx, background, welcome.Profile{
		Username:    m.Author.Username,
		AvatarURL:   m.Author.AvatarURL("256"),
		MemberCount: memberCount,
	})
	if err != nil {
		zlog.Error().Msgf("bot: failed to render preview card: error=%v", err)
		b.reply(m.ChannelID, "Card rendering failed.")
		return
	}

	_, err = s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: "welcome.png", ContentType: "image/png", Reader: bytes.NewReader(card)}},
	})
	if err != nil {
		zlog.Warn().Msgf("bot: failed to send preview card: %v", err)
	}
}

func (b *Bot) handleBackgrounds(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if b.deps.Library == nil {
		return
	}
	if !b.authorizeAdmin(s, m) {
		return
	}
	usage := fmt.Sprintf("Usage: `%sbackgrounds list|add <name>|remove <name>|setdefault <name>|preview <name>` (attach an image for add)", b.cfg.Discord.Prefix)
	if len(args) == 0 {
		b.reply(m.ChannelID, usage)
		return
	}

	switch strings.ToLower(args[0]) {
	case "list":
		names, def := b.deps.Library.List()
		if len(names) == 0 {
			b.reply(m.ChannelID, "The background library is empty.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Backgrounds:\n")
		for _, name := range names {
			if name == def {
				fmt.Fprintf(&sb, "- **%s** (default)\n", name)
			} else {
				fmt.Fprintf(&sb, "- %s\n", name)
			}
		}
		b.reply(m.ChannelID, sb.String())

	case "add":
		if len(args) < 2 || len(m.Attachments) == 0 {
			b.reply(m.ChannelID, usage)
			return
		}
		data, err := downloadAttachment(ctx, m.Attachments[0].URL)
		if err != nil {
			zlog.Warn().Msgf("bot: attachment download failed: %v", err)
			b.reply(m.ChannelID, "Could not download that attachment.")
			return
		}
		if err := b.deps.Library.Add(args[1], data); err != nil {
			b.reply(m.ChannelID, fmt.Sprintf("Could not add background: %v", err))
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Added background **%s**.", args[1]))

	case "remove":
		if len(args) < 2 {
			b.reply(m.ChannelID, usage)
			return
		}
		if err := b.deps.Library.Remove(args[1]); err != nil {
			b.reply(m.ChannelID, fmt.Sprintf("Could not remove background: %v", err))
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Removed background **%s**.", args[1]))

	case "setdefault":
		if len(args) < 2 {
			b.reply(m.ChannelID, usage)
			return
		}
		if err := b.deps.Library.SetDefault(args[1]); err != nil {
			b.reply(m.ChannelID, fmt.Sprintf("Could not set default: %v", err))
			return
		}
		b.reply(m.ChannelID, fmt.Sprintf("Default background is now **%s**.", args[1]))

	case "preview":
		if len(args) < 2 || b.deps.Renderer == nil {
			b.reply(m.ChannelID, usage)
			return
		}
		img, err := b.deps.Library.Load(args[1])
		if err != nil {
			b.reply(m.ChannelID, fmt.Sprintf("Could not load background: %v", err))
			return
		}
		b.sendCardPreview(ctx, s, m, img)

	default:
		b.reply(m.ChannelID, usage)
	}
}

func (b *Bot) handleHelp(m *discordgo.MessageCreate) {
	p := b.cfg.Discord.Prefix
	help := strings.Join([]string{
		"**Music**",
		fmt.Sprintf("`%sjoin` `%sleave` `%splay <query|url>` `%spause` `%sresume` `%sskip` `%sstop`", p, p, p, p, p, p, p),
		fmt.Sprintf("`%squeue` `%snp` `%sshuffle` `%svolume [0-%d]` `%sloop`", p, p, p, p, music.MaxVolume, p),
		"**Chat**",
		fmt.Sprintf("`%slumos <question>` (attach images to ask about them) `%smemory [show|clear]`", p, p),
		"**Welcome**",
		fmt.Sprintf("`%swelcome [name|random]` (preview card) `%sbackgrounds list|add|remove|setdefault|preview`", p, p),
	}, "\n")
	b.reply(m.ChannelID, help)
}

func (b *Bot) handleInfo(s *discordgo.Session, m *discordgo.MessageCreate) {
	name := "unknown"
	if s.State.User != nil {
		name = s.State.User.Username
	}
	b.reply(m.ChannelID, strings.Join([]string{
		fmt.Sprintf("**%s** serving %d guild(s)", name, len(s.State.Guilds)),
		fmt.Sprintf("Model: %s", b.cfg.AI.Model),
		fmt.Sprintf("Uptime: %s", time.Since(b.startedAt).Round(time.Second)),
	}, "\n"))
}

func imageAttachments(m *discordgo.MessageCreate) []string {
	var urls []string
	for _, att := range m.Attachments {
		if att != nil && chat.IsSupportedImage(att.Filename) {
			urls = append(urls, att.URL)
		}
	}
	return urls
}

// fetchImageDataURL downloads an image and inlines it as a base64 data
// URL the vision API accepts.
func fetchImageDataURL(ctx context.Context, url string) (string, error) {
	data, err := downloadAttachment(ctx, url)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("attachment is %s, not an image", mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func downloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// clampMessage trims content to the Discord message limit. The limit
// counts characters, so the cut lands on a rune boundary.
func clampMessage(content string) string {
	if utf8.RuneCountInString(content) <= maxMessageLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxMessageLen-3]) + "..."
}

// memberIsAdmin reports whether the member's resolved permissions carry
// the administrator bit.
func memberIsAdmin(member *discordgo.Member) bool {
	return member != nil && member.Permissions&discordgo.PermissionAdministrator != 0
}

// authorizeAdmin gates a command on the administrator permission and
// tells the author off when they lack it.
func (b *Bot) authorizeAdmin(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if memberIsAdmin(m.Member) {
		return true
	}
	if perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil && perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	b.reply(m.ChannelID, "That command needs the Administrator permission.")
	return false
}
