// Package music provides the per-guild playback controller and the
// process-wide music service that routes requests and transport events
// to the right controller.
package music

import (
	"context"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

const (
	// DefaultDisconnectTimeout is how long a controller sits idle before
	// the scheduled disconnect fires.
	DefaultDisconnectTimeout = 180 * time.Second

	// DefaultVolume is the initial playback volume.
	DefaultVolume = 100

	// MaxVolume is the upper volume bound accepted from users.
	MaxVolume = 150
)

// GuildMusicController holds the authoritative playback state for one
// guild: the pending FIFO queue, the current track, the loop and volume
// settings, and the single outstanding idle-disconnect timer.
//
// All state mutation is serialized behind one mutex; the controller
// never performs I/O itself. The caller commands the transport and
// reports failures back through Rollback.
type GuildMusicController struct {
	guildID string

	mu      sync.Mutex
	queue   []*Track
	current *Track
	loop    bool
	volume  int

	disconnectCancel func()
	disconnectGen    uint64
}

// NewGuildMusicController creates an idle controller for a guild.
func NewGuildMusicController(guildID string) *GuildMusicController {
	return &GuildMusicController{
		guildID: guildID,
		queue:   make([]*Track, 0),
		volume:  DefaultVolume,
	}
}

// GuildID returns the guild this controller belongs to.
func (c *GuildMusicController) GuildID() string {
	return c.guildID
}

// Enqueue appends one Track per info, in input order, and returns the
// created tracks. The queue is unbounded; Enqueue always succeeds.
func (c *GuildMusicController) Enqueue(infos []track.Info, requester *track.Requester) []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := make([]*Track, 0, len(infos))
	for _, info := range infos {
		t := newTrack(info, requester)
		c.queue = append(c.queue, t)
		added = append(added, t)
	}
	zlog.Debug().Msgf("music: enqueued %d track(s): guild=%s queue_len=%d", len(added), c.guildID, len(c.queue))
	return added
}

// Advance decides what plays next and returns the candidate, or nil
// when nothing is left.
//
// With loop enabled and a current track set, the same Track is returned
// again with its started marker reset; the pending queue is untouched.
// Otherwise the queue head (if any) becomes current. Any outstanding
// disconnect timer is cancelled: new playback activity invalidates a
// pending idle-disconnect.
//
// The state change is provisional until the caller has issued the
// transport play command; on transport failure the caller must invoke
// Rollback so controller state and actual playback stay in sync.
func (c *GuildMusicController) Advance() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelDisconnectLocked()

	if c.loop && c.current != nil {
		// Replay the identical track; the marker is re-set when the
		// transport accepts the play command.
		c.current.resetStarted()
		return c.current
	}

	if len(c.queue) == 0 {
		c.current = nil
		return nil
	}

	next := c.queue[0]
	c.queue = c.queue[1:]
	c.current = next
	return next
}

// Rollback compensates for a failed transport command after Advance:
// the controller returns to the state Advance would have left had it
// found no candidate. The track being rolled back is discarded.
func (c *GuildMusicController) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		zlog.Debug().Msgf("music: rolling back advance: guild=%s track=%s", c.guildID, c.current.Info.Title)
	}
	c.current = nil
}

// Stop clears the current track without touching the queue.
func (c *GuildMusicController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

// ClearQueue empties the pending queue. The current track is untouched.
func (c *GuildMusicController) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = make([]*Track, 0)
}

// Shuffle uniformly permutes the pending queue in place. A queue of
// fewer than two entries is left as is.
func (c *GuildMusicController) Shuffle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) < 2 {
		return
	}
	rand.Shuffle(len(c.queue), func(i, j int) {
		c.queue[i], c.queue[j] = c.queue[j], c.queue[i]
	})
}

// SetLoop sets the loop flag and returns the new value.
func (c *GuildMusicController) SetLoop(loop bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = loop
	return c.loop
}

// ToggleLoop flips the loop flag and returns the new value.
func (c *GuildMusicController) ToggleLoop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = !c.loop
	return c.loop
}

// Loop returns the loop flag.
func (c *GuildMusicController) Loop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// SetVolume clamps the requested volume to [0, MaxVolume], stores it
// and returns the effective value.
func (c *GuildMusicController) SetVolume(volume int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if volume < 0 {
		volume = 0
	}
	if volume > MaxVolume {
		volume = MaxVolume
	}
	c.volume = volume
	return c.volume
}

// Volume returns the stored volume.
func (c *GuildMusicController) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Current returns the current track, nil when idle.
func (c *GuildMusicController) Current() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IsPlaying reports whether a current track exists and has been handed
// to the transport.
func (c *GuildMusicController) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.Started()
}

// IsEmpty reports whether the queue is empty and nothing is playing.
func (c *GuildMusicController) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) == 0 && !(c.current != nil && c.current.Started())
}

// QueueLen returns the number of pending tracks.
func (c *GuildMusicController) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// QueueSnapshot returns a copy of the pending queue for display.
func (c *GuildMusicController) QueueSnapshot() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]*Track, len(c.queue))
	copy(snapshot, c.queue)
	return snapshot
}

// ScheduleDisconnect starts a deferred action that invokes fn after
// timeout elapses uninterrupted. At most one timer is outstanding per
// controller: scheduling implicitly cancels any prior timer, and a
// generation token checked at fire time guarantees a superseded or
// cancelled timer never fires even if cancellation races the firing.
func (c *GuildMusicController) ScheduleDisconnect(timeout time.Duration, fn func()) {
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelDisconnectLocked()
	c.disconnectGen++
	gen := c.disconnectGen

	zlog.Debug().Msgf("music: disconnect scheduled: guild=%s timeout=%v", c.guildID, timeout)

	c.disconnectCancel = c.startTimer(timeout, func() {
		c.mu.Lock()
		if gen != c.disconnectGen {
			// A newer schedule or a cancel superseded this timer.
			c.mu.Unlock()
			return
		}
		c.disconnectCancel = nil
		c.mu.Unlock()

		zlog.Debug().Msgf("music: idle timeout reached, disconnecting: guild=%s", c.guildID)
		fn()
	})
}

// CancelDisconnect cancels the outstanding timer, if any.
func (c *GuildMusicController) CancelDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDisconnectLocked()
}

// cancelDisconnectLocked must be called with the lock held. Bumping the
// generation invalidates a timer that already fired but has not yet
// acquired the lock.
func (c *GuildMusicController) cancelDisconnectLocked() {
	c.disconnectGen++
	if c.disconnectCancel != nil {
		c.disconnectCancel()
		c.disconnectCancel = nil
	}
}

// startTimer triggers callback after duration and returns a cancel
// function.
func (c *GuildMusicController) startTimer(duration time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())

	timer := time.NewTimer(duration)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			callback()
		}
	}()

	return cancel
}
