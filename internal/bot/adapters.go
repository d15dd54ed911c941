package bot

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/chat"
	aiclient "github.com/DancingPumpkin65/ai-discord-bot/internal/infra/openai"
)

// SessionVoice is the subset of gateway session operations the
// transport needs for voice channel membership.
type SessionVoice interface {
	ChannelVoiceJoinManual(gID, cID string, mute, deaf bool) error
}

// NodePlayer is the audio node surface the transport wraps.
type NodePlayer interface {
	Play(ctx context.Context, guildID string, encoded string) error
	Stop(ctx context.Context, guildID string) error
	SetVolume(ctx context.Context, guildID string, percent int) error
	Disconnect(ctx context.Context, guildID string) error
}

// NodeTransport adapts the audio node and the gateway session into the
// music service's transport. The node streams audio; the session owns
// voice channel membership, so leaving takes both.
type NodeTransport struct {
	node    NodePlayer
	session SessionVoice
}

func NewNodeTransport(node NodePlayer, session SessionVoice) *NodeTransport {
	return &NodeTransport{node: node, session: session}
}

func (t *NodeTransport) Play(ctx context.Context, guildID string, encoded string) error {
	return t.node.Play(ctx, guildID, encoded)
}

func (t *NodeTransport) Stop(ctx context.Context, guildID string) error {
	return t.node.Stop(ctx, guildID)
}

func (t *NodeTransport) SetVolume(ctx context.Context, guildID string, percent int) error {
	return t.node.SetVolume(ctx, guildID, percent)
}

func (t *NodeTransport) Disconnect(ctx context.Context, guildID string) error {
	if err := t.node.Disconnect(ctx, guildID); err != nil {
		// The player may already be gone; still leave the channel.
		zlog.Warn().Msgf("bot: failed to destroy node player: guild=%s error=%v", guildID, err)
	}
	return t.session.ChannelVoiceJoinManual(guildID, "", false, true)
}

// LLMCompleter adapts the completion API client to the chat service's
// message shape.
type LLMCompleter struct {
	client *aiclient.Client
}

func NewLLMCompleter(client *aiclient.Client) *LLMCompleter {
	return &LLMCompleter{client: client}
}

func (c *LLMCompleter) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	return c.client.Complete(ctx, convertChat(messages))
}

func (c *LLMCompleter) Stream(ctx context.Context, messages []chat.Message, onDelta func(string)) (string, error) {
	return c.client.Stream(ctx, convertChat(messages), onDelta)
}

func convertChat(messages []chat.Message) []aiclient.Message {
	out := make([]aiclient.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, aiclient.Message{
			Role:      m.Role,
			Content:   m.Content,
			ImageURLs: m.ImageURLs,
		})
	}
	return out
}
