// Package chat implements the conversational reply service: per user
// history, streamed completions and image attachments.
package chat

import (
	"context"
	"math/rand"
	"path"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultSystemPrompt = "You are a helpful, slightly witty assistant living in a chat server. Keep answers concise unless asked for detail."

// fallbackReplies are sent when the model cannot be reached.
var fallbackReplies = []string{
	"My crystal ball is cloudy right now. Try again in a moment.",
	"The spell fizzled. Give me a second and ask again.",
	"I seem to have lost my train of thought. One more time?",
}

var allowedImageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

// Message is a single conversation turn.
type Message struct {
	Role      string
	Content   string
	ImageURLs []string
}

// Completer produces model replies for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error)
}

// Config holds the service settings. MaxMemoryLength is the number of
// remembered exchanges per user; each exchange is two messages.
type Config struct {
	Completer       Completer
	SystemPrompt    string
	MaxMemoryLength int
}

// Service keeps a rolling conversation per user and produces replies
// through the configured completer.
type Service struct {
	completer    Completer
	systemPrompt string
	maxMemory    int

	mu        sync.Mutex
	histories map[string][]Message
}

func New(cfg Config) *Service {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	maxMemory := cfg.MaxMemoryLength
	if maxMemory < 1 {
		maxMemory = 10
	}
	return &Service{
		completer:    cfg.Completer,
		systemPrompt: prompt,
		maxMemory:    maxMemory,
		histories:    make(map[string][]Message),
	}
}

// Ask produces a full reply for the user's message and records the
// exchange. A failed completion leaves the history untouched.
func (s *Service) Ask(ctx context.Context, userID, content string, imageURLs []string) (string, error) {
	return s.run(ctx, userID, content, imageURLs, nil)
}

// Stream behaves like Ask but invokes onDelta with each reply fragment
// as it arrives.
func (s *Service) Stream(ctx context.Context, userID, content string, imageURLs []string, onDelta func(delta string)) (string, error) {
	return s.run(ctx, userID, content, imageURLs, onDelta)
}

func (s *Service) run(ctx context.Context, userID, content string, imageURLs []string, onDelta func(string)) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(imageURLs) == 0 {
		return "", errors.New("nothing to ask")
	}

	userMsg := Message{Role: RoleUser, Content: content, ImageURLs: imageURLs}
	conversation := s.conversationFor(userID, userMsg)

	var reply string
	var err error
	if onDelta != nil {
		reply, err = s.completer.Stream(ctx, conversation, onDelta)
	} else {
		reply, err = s.completer.Complete(ctx, conversation)
	}
	if err != nil {
		zlog.Warn().Msgf("chat: completion failed: user=%s error=%v", userID, err)
		return "", err
	}

	s.record(userID, userMsg, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

// conversationFor builds the request message list without mutating the
// stored history. The exchange is only recorded once the model replies.
func (s *Service) conversationFor(userID string, userMsg Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[userID]
	conversation := make([]Message, 0, len(history)+2)
	conversation = append(conversation, Message{Role: RoleSystem, Content: s.systemPrompt})
	conversation = append(conversation, history...)
	conversation = append(conversation, userMsg)
	return conversation
}

func (s *Service) record(userID string, exchange ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.histories[userID], exchange...)
	if limit := s.maxMemory * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}
	s.histories[userID] = history
}

// History returns a copy of the user's remembered exchanges, oldest
// first. The system prompt is not included.
func (s *Service) History(userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[userID]
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// ClearHistory forgets the user's conversation. Reports whether there
// was anything to forget.
func (s *Service) ClearHistory(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.histories[userID]
	delete(s.histories, userID)
	return ok
}

// IsSupportedImage reports whether the attachment filename carries an
// image extension the vision model accepts.
func IsSupportedImage(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	_, ok := allowedImageExts[ext]
	return ok
}

// FallbackReply picks a canned excuse for when the model is down.
func FallbackReply() string {
	return fallbackReplies[rand.Intn(len(fallbackReplies))]
}
