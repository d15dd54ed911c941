// Package spotify provides collection URL expansion via the Spotify API.
//
// Spotify is used only as a metadata provider: playlists, albums and
// single tracks are expanded into title/artist entries that the music
// service resolves against the playback provider.
package spotify

import (
	"context"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	zspotify "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

var collectionURLRe = regexp.MustCompile(`open\.spotify\.com/(playlist|album|track)/([a-zA-Z0-9]+)`)

// Disabled stands in for the client when no credentials are
// configured. It matches no URLs, so collection links fall through to
// plain URL loading.
type Disabled struct{}

func (Disabled) IsCollectionURL(string) bool { return false }

func (Disabled) Expand(context.Context, string) ([]track.CollectionEntry, error) {
	return nil, errors.New("collection expansion is disabled")
}

// Client is a Spotify metadata client using the client-credentials
// flow (app-only access, no user grant).
type Client struct {
	client     *zspotify.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	httpClient := spotifyauth.New().Client(ctx, token)

	return &Client{
		client:     zspotify.New(httpClient),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// IsCollectionURL reports whether the URL points at a Spotify playlist,
// album or track.
func (c *Client) IsCollectionURL(url string) bool {
	return IsCollectionURL(url)
}

// IsCollectionURL reports whether the URL points at a Spotify playlist,
// album or track.
func IsCollectionURL(url string) bool {
	return collectionURLRe.MatchString(url)
}

// resourceFromURL extracts the resource type and ID from a Spotify URL.
func resourceFromURL(url string) (kind, id string, ok bool) {
	m := collectionURLRe.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Expand resolves a Spotify URL into its ordered entries. A playlist or
// album expands to every contained track; a track URL expands to a
// single entry.
func (c *Client) Expand(ctx context.Context, url string) ([]track.CollectionEntry, error) {
	kind, id, ok := resourceFromURL(url)
	if !ok {
		return nil, errors.Newf("not a spotify collection url: %s", url)
	}

	switch kind {
	case "playlist":
		return c.playlistEntries(ctx, id)
	case "album":
		return c.albumEntries(ctx, id)
	case "track":
		entry, err := c.trackEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		return []track.CollectionEntry{entry}, nil
	default:
		return nil, errors.Newf("unsupported spotify resource type: %s", kind)
	}
}

// playlistEntries pages through all playlist items.
func (c *Client) playlistEntries(ctx context.Context, id string) ([]track.CollectionEntry, error) {
	var page *zspotify.PlaylistItemPage
	err := c.retry(func() error {
		p, err := c.client.GetPlaylistItems(ctx, zspotify.ID(id))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist items")
	}

	entries := make([]track.CollectionEntry, 0, page.Total)
	for {
		for _, item := range page.Items {
			full := item.Track.Track
			if full == nil {
				// Local files and episodes have no track payload.
				continue
			}
			entries = append(entries, fullTrackEntry(full))
		}

		err := c.client.NextPage(ctx, page)
		if errors.Is(err, zspotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to page playlist items")
		}
	}

	zlog.Debug().Msgf("spotify: playlist expanded: id=%s entries=%d", id, len(entries))
	return entries, nil
}

func (c *Client) albumEntries(ctx context.Context, id string) ([]track.CollectionEntry, error) {
	var page *zspotify.SimpleTrackPage
	err := c.retry(func() error {
		p, err := c.client.GetAlbumTracks(ctx, zspotify.ID(id))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album tracks")
	}

	entries := make([]track.CollectionEntry, 0, page.Total)
	for {
		for _, t := range page.Tracks {
			entries = append(entries, track.CollectionEntry{
				Title:      t.Name,
				Artist:     firstArtist(t.Artists),
				DurationMs: int(t.Duration),
			})
		}

		err := c.client.NextPage(ctx, page)
		if errors.Is(err, zspotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to page album tracks")
		}
	}

	zlog.Debug().Msgf("spotify: album expanded: id=%s entries=%d", id, len(entries))
	return entries, nil
}

func (c *Client) trackEntry(ctx context.Context, id string) (track.CollectionEntry, error) {
	var full *zspotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, zspotify.ID(id))
		if err != nil {
			return err
		}
		full = t
		return nil
	})
	if err != nil {
		return track.CollectionEntry{}, errors.Wrap(err, "failed to get track")
	}
	return fullTrackEntry(full), nil
}

func fullTrackEntry(t *zspotify.FullTrack) track.CollectionEntry {
	return track.CollectionEntry{
		Title:      t.Name,
		Artist:     firstArtist(t.Artists),
		DurationMs: int(t.Duration),
	}
}

func firstArtist(artists []zspotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

// retry runs fn up to maxRetries times with a fixed delay between
// attempts.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryDelay)
		}
		if err := fn(); err != nil {
			lastErr = err
			zlog.Debug().Msgf("spotify: request failed (attempt %d/%d): %v", attempt+1, c.maxRetries, err)
			continue
		}
		return nil
	}
	return lastErr
}
