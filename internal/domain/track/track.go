// Package track provides the playable track domain entity.
package track

import (
	"fmt"
	"time"
)

// Info describes a playable media item as resolved by the audio node.
// The Encoded field is the node's opaque playback token; everything else
// is display metadata.
type Info struct {
	Encoded    string        // Node playback token
	Identifier string        // Source identifier (e.g. YouTube video ID)
	Title      string        // Track title
	Author     string        // Artist / channel name
	Duration   time.Duration // Track duration (zero for live streams)
	URI        string        // Source URL
	ArtworkURL string        // Thumbnail URL
	SourceName string        // e.g. "youtube", "soundcloud"
	IsStream   bool          // Live stream flag
}

// DisplayTitle returns "Author - Title" when both are known.
func (i Info) DisplayTitle() string {
	if i.Author == "" {
		return i.Title
	}
	return fmt.Sprintf("%s - %s", i.Author, i.Title)
}

// FormatDuration renders the duration as M:SS or H:MM:SS.
// Live streams render as "LIVE".
func (i Info) FormatDuration() string {
	if i.IsStream {
		return "LIVE"
	}
	d := i.Duration.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Requester identifies the user who asked for a track.
// A nil *Requester means the play was system-initiated.
type Requester struct {
	ID   string // Platform user ID
	Name string // Display name
}

// Mention returns the chat-platform mention string for the requester.
func (r *Requester) Mention() string {
	if r == nil {
		return "system"
	}
	return fmt.Sprintf("<@%s>", r.ID)
}

// CollectionEntry is one entry of an expanded playlist/album collection.
// It carries search metadata only; the playable handle is resolved
// separately against the audio node.
type CollectionEntry struct {
	Title      string
	Artist     string
	DurationMs int
}

// SearchQuery returns the text used to resolve the entry against the
// playback provider.
func (e CollectionEntry) SearchQuery() string {
	if e.Artist == "" {
		return e.Title
	}
	return e.Title + " " + e.Artist
}
