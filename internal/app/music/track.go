package music

import (
	"time"

	"github.com/google/uuid"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

// Track is a queue entry: a playable handle plus the requester identity
// and a "started playing" marker. A Track belongs to exactly one
// controller slot and is discarded once skipped, stopped or cleared.
type Track struct {
	ID        string           // Queue entry ID, unique per enqueue
	Info      track.Info       // Playable handle and display metadata
	Requester *track.Requester // nil for system-initiated plays
	AddedAt   time.Time        // Time when added to the queue

	startedAt time.Time // zero = never handed to the transport
}

func newTrack(info track.Info, requester *track.Requester) *Track {
	return &Track{
		ID:        uuid.NewString(),
		Info:      info,
		Requester: requester,
		AddedAt:   time.Now(),
	}
}

// MarkStarted records the time the track was handed to the transport.
// Callers invoke it once per playback start; looping replays reset the
// marker first.
func (t *Track) MarkStarted() {
	t.startedAt = time.Now()
}

// Started reports whether the track has been handed to the transport.
func (t *Track) Started() bool {
	return !t.startedAt.IsZero()
}

// StartedAt returns the time of first play, zero if never started.
func (t *Track) StartedAt() time.Time {
	return t.startedAt
}

func (t *Track) resetStarted() {
	t.startedAt = time.Time{}
}
