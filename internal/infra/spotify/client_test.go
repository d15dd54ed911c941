package spotify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCollectionURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{
			name:     "playlist URL",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			expected: true,
		},
		{
			name:     "album URL",
			input:    "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy",
			expected: true,
		},
		{
			name:     "track URL",
			input:    "https://open.spotify.com/track/11dFghVXANMlKmJXsNCbNl",
			expected: true,
		},
		{
			name:     "playlist URL with query params",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123",
			expected: true,
		},
		{
			name:     "http scheme",
			input:    "http://open.spotify.com/track/11dFghVXANMlKmJXsNCbNl",
			expected: true,
		},
		{
			name:     "artist URL is not a collection",
			input:    "https://open.spotify.com/artist/0TnOYISbd1XYRBk9myaseg",
			expected: false,
		},
		{
			name:     "youtube URL",
			input:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			expected: false,
		},
		{
			name:     "free text",
			input:    "never gonna give you up",
			expected: false,
		},
		{
			name:     "empty string",
			input:    "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCollectionURL(tt.input))
		})
	}
}

func TestResourceFromURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind string
		wantID   string
		wantOK   bool
	}{
		{
			name:     "playlist",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			wantKind: "playlist",
			wantID:   "37i9dQZF1DXcBWIGoYBM5M",
			wantOK:   true,
		},
		{
			name:     "album with query params",
			input:    "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy?si=xyz",
			wantKind: "album",
			wantID:   "4aawyAB9vmqN3uQ7FjRGTy",
			wantOK:   true,
		},
		{
			name:     "track",
			input:    "https://open.spotify.com/track/11dFghVXANMlKmJXsNCbNl",
			wantKind: "track",
			wantID:   "11dFghVXANMlKmJXsNCbNl",
			wantOK:   true,
		},
		{
			name:   "not spotify",
			input:  "https://youtu.be/dQw4w9WgXcQ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, ok := resourceFromURL(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantKind, kind)
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{ClientID: "id-only"})
	assert.Error(t, err)
}
