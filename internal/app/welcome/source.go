package welcome

import (
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/config"
)

// Source supplies a background image for a card.
type Source interface {
	Background(ctx context.Context) (image.Image, error)
	Name() string
}

// SourceChain tries sources in order until one yields a background.
// It never fails; the last resort is a flat color.
type SourceChain struct {
	sources []Source
}

func NewSourceChain(sources ...Source) *SourceChain {
	return &SourceChain{sources: sources}
}

// Background returns the first available background.
func (c *SourceChain) Background(ctx context.Context) image.Image {
	for _, src := range c.sources {
		img, err := src.Background(ctx)
		if err != nil {
			zlog.Debug().Msgf("welcome: source unavailable, trying next: source=%s error=%v", src.Name(), err)
			continue
		}
		return img
	}
	return flatBackground()
}

func flatBackground() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	fill := color.RGBA{R: 44, G: 47, B: 51, A: 255}
	for y := 0; y < cardHeight; y++ {
		for x := 0; x < cardWidth; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return img
}

// NewSourceChainFromConfig builds the background chain from
// configuration. When no explicit sources are listed, one is derived
// from the simple welcome settings: the configured URL first, then the
// library (random or default).
func NewSourceChainFromConfig(cfg config.WelcomeConfig, lib *Library) (*SourceChain, error) {
	var sources []Source

	if len(cfg.Sources) == 0 {
		if cfg.BackgroundURL != "" {
			sources = append(sources, newURLSource(map[string]any{"url": cfg.BackgroundURL}))
		}
		if cfg.UseRandomBackgrounds {
			sources = append(sources, &randomSource{lib: lib})
		}
		sources = append(sources, &librarySource{lib: lib})
		return NewSourceChain(sources...), nil
	}

	for i, scfg := range cfg.Sources {
		var src Source
		var err error
		zlog.Debug().Msgf("creating welcome background source: index=%d type=%s", i+1, scfg.Type)
		switch scfg.Type {
		case "url":
			src, err = NewURLSource(scfg.Settings)

		case "library":
			src, err = NewLibrarySource(lib, scfg.Settings)

		case "random":
			src = &randomSource{lib: lib}

		default:
			return nil, errors.Newf("unsupported background source type: %s (source index %d)", scfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create background source (index %d, type %s)", i, scfg.Type)
		}
		sources = append(sources, src)
	}

	return NewSourceChain(sources...), nil
}

type urlSourceConfig struct {
	URL       string `yaml:"url" mapstructure:"url" validate:"required,url"`
	TimeoutMs int    `yaml:"timeout_ms" mapstructure:"timeout_ms" default:"10000" validate:"gte=100"`
}

type urlSource struct {
	config *urlSourceConfig
	http   *http.Client
}

// NewURLSource creates a source that fetches a fixed image URL.
func NewURLSource(settings map[string]any) (*urlSource, error) {
	var cfg urlSourceConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to apply defaults")
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	return &urlSource{
		config: &cfg,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
	}, nil
}

func newURLSource(settings map[string]any) *urlSource {
	src, err := NewURLSource(settings)
	if err != nil {
		// Settings built internally are always valid.
		panic(err)
	}
	return src
}

func (s *urlSource) Background(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build background request")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch background")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("background fetch returned %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode background")
	}
	return img, nil
}

func (s *urlSource) Name() string { return "url" }

type librarySourceConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
}

type librarySource struct {
	lib    *Library
	config librarySourceConfig
}

// NewLibrarySource creates a source backed by the background library.
// With a name it always serves that background, otherwise the
// library's default.
func NewLibrarySource(lib *Library, settings map[string]any) (*librarySource, error) {
	if lib == nil {
		return nil, errors.New("background library is required")
	}

	var cfg librarySourceConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	return &librarySource{lib: lib, config: cfg}, nil
}

func (s *librarySource) Background(ctx context.Context) (image.Image, error) {
	if s.config.Name != "" {
		return s.lib.Load(s.config.Name)
	}
	return s.lib.Default()
}

func (s *librarySource) Name() string { return "library" }

type randomSource struct {
	lib *Library
}

func (s *randomSource) Background(ctx context.Context) (image.Image, error) {
	if s.lib == nil {
		return nil, errors.New("background library is required")
	}
	return s.lib.Random()
}

func (s *randomSource) Name() string { return "random" }
