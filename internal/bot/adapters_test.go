package bot

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/chat"
)

type fakeNode struct {
	played        []string
	stopped       []string
	volumes       []int
	disconnected  []string
	disconnectErr error
}

func (f *fakeNode) Play(_ context.Context, guildID, encoded string) error {
	f.played = append(f.played, guildID+":"+encoded)
	return nil
}

func (f *fakeNode) Stop(_ context.Context, guildID string) error {
	f.stopped = append(f.stopped, guildID)
	return nil
}

func (f *fakeNode) SetVolume(_ context.Context, guildID string, percent int) error {
	f.volumes = append(f.volumes, percent)
	return nil
}

func (f *fakeNode) Disconnect(_ context.Context, guildID string) error {
	f.disconnected = append(f.disconnected, guildID)
	return f.disconnectErr
}

type fakeVoice struct {
	joins [][2]string
}

func (f *fakeVoice) ChannelVoiceJoinManual(gID, cID string, _, _ bool) error {
	f.joins = append(f.joins, [2]string{gID, cID})
	return nil
}

func TestNodeTransportDelegates(t *testing.T) {
	node := &fakeNode{}
	voice := &fakeVoice{}
	tr := NewNodeTransport(node, voice)

	require.NoError(t, tr.Play(context.Background(), "g1", "enc"))
	require.NoError(t, tr.Stop(context.Background(), "g1"))
	require.NoError(t, tr.SetVolume(context.Background(), "g1", 80))

	assert.Equal(t, []string{"g1:enc"}, node.played)
	assert.Equal(t, []string{"g1"}, node.stopped)
	assert.Equal(t, []int{80}, node.volumes)
	assert.Empty(t, voice.joins)
}

func TestNodeTransportDisconnectLeavesVoice(t *testing.T) {
	node := &fakeNode{}
	voice := &fakeVoice{}
	tr := NewNodeTransport(node, voice)

	require.NoError(t, tr.Disconnect(context.Background(), "g1"))
	assert.Equal(t, []string{"g1"}, node.disconnected)
	require.Len(t, voice.joins, 1)
	assert.Equal(t, [2]string{"g1", ""}, voice.joins[0], "empty channel ID leaves the channel")
}

func TestNodeTransportDisconnectLeavesEvenWhenDestroyFails(t *testing.T) {
	node := &fakeNode{disconnectErr: errors.New("player already gone")}
	voice := &fakeVoice{}
	tr := NewNodeTransport(node, voice)

	require.NoError(t, tr.Disconnect(context.Background(), "g1"))
	require.Len(t, voice.joins, 1)
}

func TestConvertChatPreservesFields(t *testing.T) {
	out := convertChat([]chat.Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "look", ImageURLs: []string{"https://example.com/a.png"}},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "prompt", out[0].Content)
	assert.Equal(t, []string{"https://example.com/a.png"}, out[1].ImageURLs)
}
