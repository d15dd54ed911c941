package music

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/domain/track"
)

func infos(titles ...string) []track.Info {
	out := make([]track.Info, 0, len(titles))
	for _, title := range titles {
		out = append(out, track.Info{Encoded: "enc:" + title, Title: title})
	}
	return out
}

func queueTitles(c *GuildMusicController) []string {
	snapshot := c.QueueSnapshot()
	titles := make([]string, 0, len(snapshot))
	for _, t := range snapshot {
		titles = append(titles, t.Info.Title)
	}
	return titles
}

func TestController_EnqueueKeepsFIFOOrder(t *testing.T) {
	tests := []struct {
		name     string
		batches  [][]string
		expected []string
	}{
		{
			name:     "single batch",
			batches:  [][]string{{"a", "b", "c"}},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "multiple batches",
			batches:  [][]string{{"a"}, {"b", "c"}, {"d"}},
			expected: []string{"a", "b", "c", "d"},
		},
		{
			name:     "empty batch between",
			batches:  [][]string{{"a"}, {}, {"b"}},
			expected: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewGuildMusicController("guild-1")
			for _, batch := range tt.batches {
				c.Enqueue(infos(batch...), nil)
			}
			assert.Equal(t, tt.expected, queueTitles(c))
		})
	}
}

func TestController_EnqueueReturnsCreatedTracks(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	requester := &track.Requester{ID: "42", Name: "alice"}

	added := c.Enqueue(infos("a", "b"), requester)

	require.Len(t, added, 2)
	assert.Equal(t, "a", added[0].Info.Title)
	assert.Equal(t, "b", added[1].Info.Title)
	for _, tr := range added {
		assert.NotEmpty(t, tr.ID)
		assert.Equal(t, requester, tr.Requester)
		assert.False(t, tr.Started())
	}
	assert.NotEqual(t, added[0].ID, added[1].ID)
}

func TestController_AdvancePopsHead(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a", "b", "c"), nil)

	next := c.Advance()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.Info.Title)
	assert.Equal(t, []string{"b", "c"}, queueTitles(c))
	assert.Same(t, next, c.Current())
}

func TestController_AdvanceEmptyQueueClearsCurrent(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a"), nil)

	first := c.Advance()
	require.NotNil(t, first)
	first.MarkStarted()

	next := c.Advance()
	assert.Nil(t, next)
	assert.Nil(t, c.Current())
	assert.False(t, c.IsPlaying())
}

func TestController_AdvanceWithLoopReturnsSameTrack(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a", "b"), nil)
	c.SetLoop(true)

	first := c.Advance()
	require.NotNil(t, first)
	first.MarkStarted()

	// Consecutive advances replay the identical track without touching
	// the pending queue.
	for i := 0; i < 3; i++ {
		again := c.Advance()
		require.NotNil(t, again)
		assert.Same(t, first, again)
		assert.False(t, again.Started(), "marker must be reset for the replay")
		again.MarkStarted()
	}
	assert.Equal(t, []string{"b"}, queueTitles(c))
}

func TestController_AdvanceLoopWithoutCurrentPopsQueue(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.SetLoop(true)
	c.Enqueue(infos("a"), nil)

	next := c.Advance()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.Info.Title)
}

func TestController_AdvanceScenario(t *testing.T) {
	// enqueue [A, B, C] -> advance x3 pops in order, final advance
	// returns nothing and clears current.
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("A", "B", "C"), nil)

	a := c.Advance()
	require.NotNil(t, a)
	a.MarkStarted()
	assert.Equal(t, "A", a.Info.Title)
	assert.Equal(t, []string{"B", "C"}, queueTitles(c))

	b := c.Advance()
	require.NotNil(t, b)
	b.MarkStarted()
	assert.Equal(t, "B", b.Info.Title)
	assert.Equal(t, []string{"C"}, queueTitles(c))

	c.Shuffle() // single entry, benign
	assert.Equal(t, []string{"C"}, queueTitles(c))

	cc := c.Advance()
	require.NotNil(t, cc)
	cc.MarkStarted()
	assert.Equal(t, "C", cc.Info.Title)
	assert.Empty(t, queueTitles(c))

	assert.Nil(t, c.Advance())
	assert.Nil(t, c.Current())
}

func TestController_Rollback(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a"), nil)

	next := c.Advance()
	require.NotNil(t, next)

	c.Rollback()
	assert.Nil(t, c.Current())
	assert.False(t, c.IsPlaying())
}

func TestController_ClearQueueKeepsCurrent(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a", "b", "c"), nil)

	current := c.Advance()
	require.NotNil(t, current)
	current.MarkStarted()

	c.ClearQueue()
	assert.Zero(t, c.QueueLen())
	assert.Same(t, current, c.Current())
	assert.True(t, c.IsPlaying())
}

func TestController_ShufflePreservesMultiset(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	titles := []string{"a", "b", "c", "d", "e"}
	c.Enqueue(infos(titles...), nil)

	c.Shuffle()

	assert.ElementsMatch(t, titles, queueTitles(c))
}

func TestController_ShuffleUniformity(t *testing.T) {
	// Over many trials every permutation of a 3-element queue should
	// appear with roughly equal frequency.
	const trials = 6000
	counts := make(map[string]int)

	for i := 0; i < trials; i++ {
		c := NewGuildMusicController("guild-1")
		c.Enqueue(infos("a", "b", "c"), nil)
		c.Shuffle()
		counts[fmt.Sprint(queueTitles(c))]++
	}

	require.Len(t, counts, 6, "all 6 permutations should occur")
	expected := trials / 6
	for perm, n := range counts {
		assert.InDelta(t, expected, n, float64(expected)*0.25, "permutation %s appeared %d times", perm, n)
	}
}

func TestController_ShuffleNoopOnSmallQueues(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Shuffle()
	assert.Zero(t, c.QueueLen())

	c.Enqueue(infos("only"), nil)
	c.Shuffle()
	assert.Equal(t, []string{"only"}, queueTitles(c))
}

func TestController_SetVolumeClamps(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "within range", input: 80, expected: 80},
		{name: "negative clamps to zero", input: -5, expected: 0},
		{name: "above max clamps", input: 500, expected: MaxVolume},
		{name: "exactly max", input: MaxVolume, expected: MaxVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewGuildMusicController("guild-1")
			assert.Equal(t, tt.expected, c.SetVolume(tt.input))
			assert.Equal(t, tt.expected, c.Volume())
		})
	}
}

func TestController_DefaultVolume(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	assert.Equal(t, DefaultVolume, c.Volume())
}

func TestController_ScheduleThenCancelNeverFires(t *testing.T) {
	c := NewGuildMusicController("guild-1")

	var fired atomic.Int32
	c.ScheduleDisconnect(20*time.Millisecond, func() { fired.Add(1) })
	c.CancelDisconnect()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestController_ScheduleTwiceFiresAtMostOnce(t *testing.T) {
	c := NewGuildMusicController("guild-1")

	var fired atomic.Int32
	c.ScheduleDisconnect(20*time.Millisecond, func() { fired.Add(1) })
	c.ScheduleDisconnect(20*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestController_ScheduledDisconnectFires(t *testing.T) {
	c := NewGuildMusicController("guild-1")

	fired := make(chan struct{})
	c.ScheduleDisconnect(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scheduled disconnect never fired")
	}
}

func TestController_AdvanceCancelsPendingDisconnect(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	c.Enqueue(infos("a"), nil)

	var fired atomic.Int32
	c.ScheduleDisconnect(20*time.Millisecond, func() { fired.Add(1) })

	next := c.Advance()
	require.NotNil(t, next)

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load(), "playback activity must invalidate a pending idle-disconnect")
}

func TestController_CancelWithoutScheduleIsNoop(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	assert.NotPanics(t, func() { c.CancelDisconnect() })
}

func TestController_IsEmpty(t *testing.T) {
	c := NewGuildMusicController("guild-1")
	assert.True(t, c.IsEmpty())

	c.Enqueue(infos("a"), nil)
	assert.False(t, c.IsEmpty())

	next := c.Advance()
	require.NotNil(t, next)
	assert.True(t, c.IsEmpty(), "advanced but not started yet")

	next.MarkStarted()
	assert.False(t, c.IsEmpty())
}
