// Package welcome builds greeting cards for newly joined members and
// manages the background images they are drawn on.
package welcome

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fogleman/gg"
	"github.com/nfnt/resize"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/image/font/basicfont"
)

const (
	cardWidth    = 1000
	cardHeight   = 563
	avatarSize   = 196
	ringWidth    = 8
	overlayAlpha = 110
)

var accentColor = color.RGBA{R: 88, G: 101, B: 242, A: 255}

// Profile describes the member the card is for.
type Profile struct {
	Username    string
	AvatarURL   string
	MemberCount int
}

// Renderer composes welcome cards. Fonts are looked up in fontsDir;
// when none are found the built-in bitmap face is used instead.
type Renderer struct {
	fontsDir string
	http     *http.Client
}

func NewRenderer(fontsDir string) *Renderer {
	return &Renderer{
		fontsDir: fontsDir,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Render draws the card over the given background and returns it as
// PNG bytes. A missing or broken avatar degrades to a plain ring.
func (r *Renderer) Render(ctx context.Context, background image.Image, profile Profile) ([]byte, error) {
	dc := gg.NewContext(cardWidth, cardHeight)

	drawCover(dc, background)

	// Darken so the text stays readable on bright backgrounds.
	dc.SetRGBA255(0, 0, 0, overlayAlpha)
	dc.DrawRectangle(0, 0, cardWidth, cardHeight)
	dc.Fill()

	avatarCenterX := float64(cardWidth) / 2
	avatarCenterY := 170.0

	avatar, err := r.fetchAvatar(ctx, profile.AvatarURL)
	if err != nil {
		zlog.Warn().Msgf("welcome: avatar unavailable, using placeholder: %v", err)
		r.drawAvatarPlaceholder(dc, profile.Username, avatarCenterX, avatarCenterY)
	} else {
		drawCircularAvatar(dc, avatar, avatarCenterX, avatarCenterY)
	}

	dc.SetColor(accentColor)
	dc.SetLineWidth(ringWidth)
	dc.DrawCircle(avatarCenterX, avatarCenterY, float64(avatarSize)/2+ringWidth/2)
	dc.Stroke()

	r.setFont(dc, 56)
	dc.SetRGB255(255, 255, 255)
	dc.DrawStringAnchored("WELCOME", avatarCenterX, 340, 0.5, 0.5)

	r.setFont(dc, 40)
	dc.DrawStringAnchored(profile.Username, avatarCenterX, 410, 0.5, 0.5)

	if profile.MemberCount > 0 {
		r.setFont(dc, 26)
		dc.SetRGB255(200, 200, 200)
		dc.DrawStringAnchored(fmt.Sprintf("Member #%d", profile.MemberCount), avatarCenterX, 470, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, errors.Wrap(err, "failed to encode card")
	}
	return buf.Bytes(), nil
}

// drawCover scales the background to fill the canvas, cropping the
// overflow around the center.
func drawCover(dc *gg.Context, img image.Image) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		dc.SetRGB255(44, 47, 51)
		dc.Clear()
		return
	}

	scaleX := float64(cardWidth) / float64(bounds.Dx())
	scaleY := float64(cardHeight) / float64(bounds.Dy())
	scale := scaleX
	if scaleY > scale {
		scale = scaleY
	}

	w := uint(float64(bounds.Dx())*scale + 0.5)
	h := uint(float64(bounds.Dy())*scale + 0.5)
	scaled := resize.Resize(w, h, img, resize.Lanczos3)

	dc.DrawImageAnchored(scaled, cardWidth/2, cardHeight/2, 0.5, 0.5)
}

func drawCircularAvatar(dc *gg.Context, avatar image.Image, cx, cy float64) {
	scaled := resize.Resize(avatarSize, avatarSize, avatar, resize.Lanczos3)

	dc.Push()
	dc.DrawCircle(cx, cy, float64(avatarSize)/2)
	dc.Clip()
	dc.DrawImageAnchored(scaled, int(cx), int(cy), 0.5, 0.5)
	dc.Pop()
}

// drawAvatarPlaceholder fills the avatar circle with the accent color
// and the username's first letter.
func (r *Renderer) drawAvatarPlaceholder(dc *gg.Context, username string, cx, cy float64) {
	dc.SetColor(accentColor)
	dc.DrawCircle(cx, cy, float64(avatarSize)/2)
	dc.Fill()

	initial := "?"
	for _, ru := range username {
		initial = strings.ToUpper(string(ru))
		break
	}

	r.setFont(dc, 80)
	dc.SetRGB255(255, 255, 255)
	dc.DrawStringAnchored(initial, cx, cy, 0.5, 0.5)
}

func (r *Renderer) fetchAvatar(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, errors.New("no avatar URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build avatar request")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch avatar")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("avatar fetch returned %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode avatar")
	}
	return img, nil
}

// setFont loads the first TrueType font found in fontsDir at the given
// size, falling back to the built-in face.
func (r *Renderer) setFont(dc *gg.Context, points float64) {
	if r.fontsDir != "" {
		matches, _ := filepath.Glob(filepath.Join(r.fontsDir, "*.ttf"))
		if len(matches) > 0 {
			if err := dc.LoadFontFace(matches[0], points); err == nil {
				return
			}
		}
	}
	dc.SetFontFace(basicfont.Face7x13)
}
