package welcome

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeCard(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestRenderProducesCardSizedPNG(t *testing.T) {
	var avatarBuf bytes.Buffer
	require.NoError(t, png.Encode(&avatarBuf, solid(color.RGBA{R: 200, A: 255}, 64, 64)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(avatarBuf.Bytes())
	}))
	defer srv.Close()

	r := NewRenderer(t.TempDir()) // no fonts, built-in face is used
	data, err := r.Render(context.Background(), solid(color.RGBA{B: 120, A: 255}, 300, 300), Profile{
		Username:    "newcomer",
		AvatarURL:   srv.URL,
		MemberCount: 42,
	})
	require.NoError(t, err)

	w, h := decodeCard(t, data)
	assert.Equal(t, cardWidth, w)
	assert.Equal(t, cardHeight, h)
}

func TestRenderSurvivesMissingAvatar(t *testing.T) {
	r := NewRenderer("")
	data, err := r.Render(context.Background(), solid(color.RGBA{G: 80, A: 255}, 1200, 400), Profile{
		Username: "ghost",
	})
	require.NoError(t, err)

	w, h := decodeCard(t, data)
	assert.Equal(t, cardWidth, w)
	assert.Equal(t, cardHeight, h)
}

func TestRenderSurvivesBrokenAvatarServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRenderer("")
	_, err := r.Render(context.Background(), solid(color.RGBA{A: 255}, 10, 10), Profile{
		Username:  "unlucky",
		AvatarURL: srv.URL,
	})
	assert.NoError(t, err)
}

func TestRenderCoversWideAndTallBackgrounds(t *testing.T) {
	r := NewRenderer("")
	for _, dims := range [][2]int{{2000, 200}, {200, 2000}, {1000, 563}} {
		data, err := r.Render(context.Background(), solid(color.RGBA{R: 40, G: 40, B: 40, A: 255}, dims[0], dims[1]), Profile{Username: "x"})
		require.NoError(t, err)
		w, h := decodeCard(t, data)
		assert.Equal(t, cardWidth, w)
		assert.Equal(t, cardHeight, h)
	}
}
