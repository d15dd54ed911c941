package bot

import (
	"fmt"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// announceLoop posts a periodic status message to the configured
// channel. It runs until Stop closes the done channel.
func (b *Bot) announceLoop() {
	interval := b.cfg.Announcement.Interval()
	channelID := b.cfg.Announcement.ChannelID

	zlog.Info().Msgf("bot: announcement loop started: channel=%s interval=%s", channelID, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case now := <-ticker.C:
			b.reply(channelID, announcementText(now, now.Sub(b.startedAt)))
		}
	}
}

// announcementText builds the daily status message from the current
// time and the bot's uptime.
func announcementText(now time.Time, uptime time.Duration) string {
	return fmt.Sprintf("**Daily update** for %s\nI have been online for %s.",
		now.Format("Monday, January 2, 2006"), uptime.Round(time.Second))
}
