package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnnouncementText(t *testing.T) {
	now := time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

	text := announcementText(now, 26*time.Hour+30*time.Minute+200*time.Millisecond)

	assert.Contains(t, text, "Friday, March 14, 2025")
	assert.Contains(t, text, "26h30m0s")
}
