package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply    string
	err      error
	requests [][]Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	f.requests = append(f.requests, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) Stream(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	reply, err := f.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(reply, " ") {
		onDelta(word)
	}
	return reply, nil
}

func newTestService(fake *fakeCompleter) *Service {
	return New(Config{Completer: fake, SystemPrompt: "test prompt", MaxMemoryLength: 3})
}

func TestAskRecordsExchange(t *testing.T) {
	fake := &fakeCompleter{reply: "hi there"}
	s := newTestService(fake)

	reply, err := s.Ask(context.Background(), "u1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)

	history := s.History("u1")
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "hi there", history[1].Content)
}

func TestAskSendsSystemPromptFirst(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake)

	_, err := s.Ask(context.Background(), "u1", "hello", nil)
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	require.NotEmpty(t, fake.requests[0])
	assert.Equal(t, RoleSystem, fake.requests[0][0].Role)
	assert.Equal(t, "test prompt", fake.requests[0][0].Content)
}

func TestAskIncludesPriorHistory(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake)

	_, err := s.Ask(context.Background(), "u1", "first", nil)
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "u1", "second", nil)
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	// system + first exchange + new message
	require.Len(t, fake.requests[1], 4)
	assert.Equal(t, "first", fake.requests[1][1].Content)
	assert.Equal(t, "ok", fake.requests[1][2].Content)
	assert.Equal(t, "second", fake.requests[1][3].Content)
}

func TestFailedCompletionLeavesHistoryUntouched(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("model down")}
	s := newTestService(fake)

	_, err := s.Ask(context.Background(), "u1", "hello", nil)
	require.Error(t, err)
	assert.Empty(t, s.History("u1"))
}

func TestHistoryTrimsToMemoryLimit(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake) // remembers 3 exchanges

	for i := 0; i < 5; i++ {
		_, err := s.Ask(context.Background(), "u1", fmt.Sprintf("msg-%d", i), nil)
		require.NoError(t, err)
	}

	history := s.History("u1")
	require.Len(t, history, 6)
	assert.Equal(t, "msg-2", history[0].Content)
	assert.Equal(t, "msg-4", history[4].Content)
}

func TestHistoriesAreIsolatedPerUser(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake)

	_, err := s.Ask(context.Background(), "u1", "from one", nil)
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "u2", "from two", nil)
	require.NoError(t, err)

	require.Len(t, s.History("u1"), 2)
	assert.Equal(t, "from one", s.History("u1")[0].Content)
	assert.Equal(t, "from two", s.History("u2")[0].Content)
}

func TestClearHistory(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake)

	assert.False(t, s.ClearHistory("u1"))

	_, err := s.Ask(context.Background(), "u1", "hello", nil)
	require.NoError(t, err)

	assert.True(t, s.ClearHistory("u1"))
	assert.Empty(t, s.History("u1"))
}

func TestStreamDeliversDeltas(t *testing.T) {
	fake := &fakeCompleter{reply: "one two three"}
	s := newTestService(fake)

	var deltas []string
	reply, err := s.Stream(context.Background(), "u1", "count", nil, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", reply)
	assert.Equal(t, "one two three", strings.Join(deltas, ""))
	assert.Greater(t, len(deltas), 1)
}

func TestAskRejectsEmptyInput(t *testing.T) {
	fake := &fakeCompleter{reply: "ok"}
	s := newTestService(fake)

	_, err := s.Ask(context.Background(), "u1", "   ", nil)
	assert.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestAskAcceptsImageOnlyInput(t *testing.T) {
	fake := &fakeCompleter{reply: "a cat"}
	s := newTestService(fake)

	reply, err := s.Ask(context.Background(), "u1", "", []string{"data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "a cat", reply)

	history := s.History("u1")
	require.Len(t, history, 2)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, history[0].ImageURLs)
}

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"photo.png", true},
		{"photo.PNG", true},
		{"photo.jpg", true},
		{"photo.jpeg", true},
		{"anim.gif", true},
		{"modern.webp", true},
		{"clip.mp4", false},
		{"doc.pdf", false},
		{"noext", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSupportedImage(tt.filename), tt.filename)
	}
}

func TestFallbackReplyNotEmpty(t *testing.T) {
	assert.NotEmpty(t, FallbackReply())
}
