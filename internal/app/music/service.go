package music

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

// Transport commands the external audio node. Implementations are
// fire-and-forget from the controller's perspective; errors are
// surfaced so the service can roll back optimistic state changes.
type Transport interface {
	Play(ctx context.Context, guildID string, encoded string) error
	Stop(ctx context.Context, guildID string) error
	SetVolume(ctx context.Context, guildID string, percent int) error
	Disconnect(ctx context.Context, guildID string) error
}

// Searcher resolves free text and direct media URLs against the
// playback provider.
type Searcher interface {
	SearchTracks(ctx context.Context, query string) ([]track.Info, error)
	LoadURL(ctx context.Context, url string) ([]track.Info, error)
}

// Collections expands playlist/album/collection URLs of a metadata
// provider (a different system than the playback provider) into
// search-ready entries.
type Collections interface {
	IsCollectionURL(url string) bool
	Expand(ctx context.Context, url string) ([]track.CollectionEntry, error)
}

// EndReason is the service's reduced classification of a transport
// track-end notification. Raw reason codes are translated at the
// boundary so controllers never see the transport's event shape.
type EndReason int

const (
	EndOther      EndReason = iota // manual stop, replacement, cleanup
	EndFinished                    // track played to completion
	EndLoadFailed                  // node could not decode/load the track
)

// ParseEndReason translates a raw transport reason code.
// Both the v3 upper-case and v4 camel-case spellings are accepted.
func ParseEndReason(raw string) EndReason {
	switch raw {
	case "finished", "FINISHED":
		return EndFinished
	case "loadFailed", "LOAD_FAILED":
		return EndLoadFailed
	default:
		return EndOther
	}
}

// Resolution is the outcome of resolving a user request: the resolved
// tracks in order, plus the number of collection entries that failed
// individual resolution and were skipped.
type Resolution struct {
	Tracks  []track.Info
	Skipped int
}

// Config holds service construction parameters.
type Config struct {
	Transport         Transport
	Searcher          Searcher
	Collections       Collections
	DisconnectTimeout time.Duration
}

// Service is the process-wide directory of guild controllers and the
// bridge between inbound requests / transport events and controller
// operations. Controllers are created lazily and live for the process
// lifetime.
type Service struct {
	transport         Transport
	searcher          Searcher
	collections       Collections
	disconnectTimeout time.Duration

	mu          sync.Mutex
	controllers map[string]*GuildMusicController
}

// NewService creates the music service.
func NewService(cfg Config) *Service {
	timeout := cfg.DisconnectTimeout
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}
	return &Service{
		transport:         cfg.Transport,
		searcher:          cfg.Searcher,
		collections:       cfg.Collections,
		disconnectTimeout: timeout,
		controllers:       make(map[string]*GuildMusicController),
	}
}

// Controller returns the guild's controller, creating it atomically on
// first reference. Two concurrent first requests observe the same
// instance.
func (s *Service) Controller(guildID string) *GuildMusicController {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.controllers[guildID]; ok {
		return c
	}
	c := NewGuildMusicController(guildID)
	s.controllers[guildID] = c
	zlog.Debug().Msgf("music: controller created: guild=%s", guildID)
	return c
}

// ResolveRequest turns a search string or URL into zero or more
// track handles:
//
//   - a collection URL expands to its entries, each resolved by a
//     secondary title-and-artist search; entries that fail to resolve
//     are skipped, not fatal to the batch;
//   - any other URL loads directly;
//   - free text resolves to the best single match, or none.
//
// An empty result signals "nothing found" and is not an error.
func (s *Service) ResolveRequest(ctx context.Context, query string) (Resolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Resolution{}, nil
	}

	if s.collections != nil && s.collections.IsCollectionURL(query) {
		return s.resolveCollection(ctx, query)
	}

	if isURL(query) {
		infos, err := s.searcher.LoadURL(ctx, query)
		if err != nil {
			return Resolution{}, errors.Wrap(err, "failed to load url")
		}
		return Resolution{Tracks: infos}, nil
	}

	infos, err := s.searcher.SearchTracks(ctx, query)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "search failed")
	}
	if len(infos) == 0 {
		return Resolution{}, nil
	}
	return Resolution{Tracks: infos[:1]}, nil
}

func (s *Service) resolveCollection(ctx context.Context, url string) (Resolution, error) {
	entries, err := s.collections.Expand(ctx, url)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "failed to expand collection")
	}

	res := Resolution{Tracks: make([]track.Info, 0, len(entries))}
	for _, entry := range entries {
		infos, err := s.searcher.SearchTracks(ctx, entry.SearchQuery())
		if err != nil {
			zlog.Warn().Msgf("music: skipping collection entry, search failed: query=%q error=%v", entry.SearchQuery(), err)
			res.Skipped++
			continue
		}
		if len(infos) == 0 {
			zlog.Debug().Msgf("music: skipping collection entry, no match: query=%q", entry.SearchQuery())
			res.Skipped++
			continue
		}
		res.Tracks = append(res.Tracks, infos[0])
	}

	zlog.Info().Msgf("music: collection resolved: url=%s entries=%d resolved=%d skipped=%d",
		url, len(entries), len(res.Tracks), res.Skipped)
	return res, nil
}

// PlayNext advances the guild's controller and commands the transport
// accordingly. When a candidate is found it is played and marked
// started; the controller is rolled back if the transport rejects the
// command. When nothing is left, an idle-disconnect is scheduled and
// nil is returned.
func (s *Service) PlayNext(ctx context.Context, guildID string) (*Track, error) {
	c := s.Controller(guildID)

	next := c.Advance()
	if next == nil {
		s.scheduleDisconnect(c)
		return nil, nil
	}

	if err := s.transport.Play(ctx, guildID, next.Info.Encoded); err != nil {
		c.Rollback()
		return nil, errors.Wrapf(err, "transport rejected play command for guild %s", guildID)
	}
	next.MarkStarted()

	zlog.Info().Msgf("music: now playing: guild=%s track=%s requester=%s",
		guildID, next.Info.DisplayTitle(), next.Requester.Mention())
	return next, nil
}

// OnTrackEnd reacts to a transport track-end notification. Only a
// genuine end of track (finished, or a failed load) triggers
// auto-advance; manual stops and replacements are handled by the
// command that caused them.
func (s *Service) OnTrackEnd(ctx context.Context, guildID string, reason EndReason) (*Track, error) {
	if reason != EndFinished && reason != EndLoadFailed {
		return nil, nil
	}
	return s.PlayNext(ctx, guildID)
}

// Skip stops the current track and immediately advances. The transport
// stop produces an end event with a manual reason, so the advance here
// is the only one.
func (s *Service) Skip(ctx context.Context, guildID string) (*Track, error) {
	if err := s.transport.Stop(ctx, guildID); err != nil {
		return nil, errors.Wrap(err, "transport rejected stop command")
	}
	return s.PlayNext(ctx, guildID)
}

// Stop halts playback, clears the queue and schedules an
// idle-disconnect, mirroring an explicit user stop.
func (s *Service) Stop(ctx context.Context, guildID string) error {
	c := s.Controller(guildID)
	c.ClearQueue()
	c.Stop()

	if err := s.transport.Stop(ctx, guildID); err != nil {
		return errors.Wrap(err, "transport rejected stop command")
	}
	s.scheduleDisconnect(c)
	return nil
}

// Leave resets the guild's playback state and disconnects the
// transport immediately.
func (s *Service) Leave(ctx context.Context, guildID string) error {
	c := s.Controller(guildID)
	c.ClearQueue()
	c.Stop()
	c.CancelDisconnect()

	if err := s.transport.Disconnect(ctx, guildID); err != nil {
		return errors.Wrap(err, "transport rejected disconnect command")
	}
	return nil
}

// SetVolume stores the clamped volume on the controller and pushes it
// to the transport.
func (s *Service) SetVolume(ctx context.Context, guildID string, percent int) (int, error) {
	c := s.Controller(guildID)
	effective := c.SetVolume(percent)

	if err := s.transport.SetVolume(ctx, guildID, effective); err != nil {
		return effective, errors.Wrap(err, "transport rejected volume command")
	}
	return effective, nil
}

func (s *Service) scheduleDisconnect(c *GuildMusicController) {
	guildID := c.GuildID()
	c.ScheduleDisconnect(s.disconnectTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.transport.Disconnect(ctx, guildID); err != nil {
			zlog.Warn().Msgf("music: idle disconnect failed: guild=%s error=%v", guildID, err)
		}
	})
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
