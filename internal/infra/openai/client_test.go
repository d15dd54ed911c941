package openai

import (
	"testing"

	gopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessagesPlainText(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hello"},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be helpful", out[0].Content)
	assert.Empty(t, out[0].MultiContent)
	assert.Equal(t, "hello", out[1].Content)
}

func TestConvertMessagesWithImages(t *testing.T) {
	out := convertMessages([]Message{
		{
			Role:      "user",
			Content:   "what is this",
			ImageURLs: []string{"data:image/png;base64,AAAA", "https://example.com/b.jpg"},
		},
	})

	require.Len(t, out, 1)
	assert.Empty(t, out[0].Content)
	require.Len(t, out[0].MultiContent, 3)

	assert.Equal(t, gopenai.ChatMessagePartTypeText, out[0].MultiContent[0].Type)
	assert.Equal(t, "what is this", out[0].MultiContent[0].Text)
	assert.Equal(t, gopenai.ChatMessagePartTypeImageURL, out[0].MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", out[0].MultiContent[1].ImageURL.URL)
	assert.Equal(t, "https://example.com/b.jpg", out[0].MultiContent[2].ImageURL.URL)
}

func TestConvertMessagesImageOnly(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "user", ImageURLs: []string{"https://example.com/a.png"}},
	})

	require.Len(t, out, 1)
	require.Len(t, out[0].MultiContent, 1)
	assert.Equal(t, gopenai.ChatMessagePartTypeImageURL, out[0].MultiContent[0].Type)
}

func TestNewAppliesBaseURL(t *testing.T) {
	c := New(Config{APIKey: "k", BaseURL: "https://models.example.com", Model: "gpt-4o"})
	require.NotNil(t, c.api)
	assert.Equal(t, "gpt-4o", c.model)
}
