package lavalink

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

// wsMessage is the superset of fields across node websocket messages.
// Only the fields relevant to the message's op/type are populated.
type wsMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`

	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Reason  string `json:"reason"`
	Code    int    `json:"code"`

	Exception struct {
		Message string `json:"message"`
	} `json:"exception"`
}

const (
	loadTypeTrack    = "track"
	loadTypePlaylist = "playlist"
	loadTypeSearch   = "search"
	loadTypeEmpty    = "empty"
	loadTypeError    = "error"
)

// apiTrack is the node's track representation.
type apiTrack struct {
	Encoded string `json:"encoded"`
	Info    struct {
		Identifier string `json:"identifier"`
		Author     string `json:"author"`
		Length     int64  `json:"length"`
		IsStream   bool   `json:"isStream"`
		Title      string `json:"title"`
		URI        string `json:"uri"`
		ArtworkURL string `json:"artworkUrl"`
		SourceName string `json:"sourceName"`
	} `json:"info"`
}

func (t apiTrack) toInfo() track.Info {
	return track.Info{
		Encoded:    t.Encoded,
		Identifier: t.Info.Identifier,
		Title:      t.Info.Title,
		Author:     t.Info.Author,
		Duration:   time.Duration(t.Info.Length) * time.Millisecond,
		URI:        t.Info.URI,
		ArtworkURL: t.Info.ArtworkURL,
		SourceName: t.Info.SourceName,
		IsStream:   t.Info.IsStream,
	}
}

// loadResult is the normalized outcome of a loadtracks call. The raw
// response's data shape depends on loadType, so decoding happens in
// two steps.
type loadResult struct {
	LoadType string
	Tracks   []track.Info
	Error    loadError
}

type loadError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func decodeLoadResult(body []byte) (loadResult, error) {
	var raw struct {
		LoadType string          `json:"loadType"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return loadResult{}, errors.Wrap(err, "failed to decode load result")
	}

	result := loadResult{LoadType: raw.LoadType}

	switch raw.LoadType {
	case loadTypeTrack:
		var t apiTrack
		if err := json.Unmarshal(raw.Data, &t); err != nil {
			return loadResult{}, errors.Wrap(err, "failed to decode track data")
		}
		result.Tracks = []track.Info{t.toInfo()}
	case loadTypePlaylist:
		var p struct {
			Tracks []apiTrack `json:"tracks"`
		}
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return loadResult{}, errors.Wrap(err, "failed to decode playlist data")
		}
		result.Tracks = convertTracks(p.Tracks)
	case loadTypeSearch:
		var ts []apiTrack
		if err := json.Unmarshal(raw.Data, &ts); err != nil {
			return loadResult{}, errors.Wrap(err, "failed to decode search data")
		}
		result.Tracks = convertTracks(ts)
	case loadTypeError:
		if err := json.Unmarshal(raw.Data, &result.Error); err != nil {
			return loadResult{}, errors.Wrap(err, "failed to decode error data")
		}
	case loadTypeEmpty:
	default:
		return loadResult{}, errors.Newf("unknown load type %q", raw.LoadType)
	}

	return result, nil
}

func convertTracks(ts []apiTrack) []track.Info {
	infos := make([]track.Info, 0, len(ts))
	for _, t := range ts {
		infos = append(infos, t.toInfo())
	}
	return infos
}

func urlQueryEscape(s string) string {
	return url.QueryEscape(s)
}
