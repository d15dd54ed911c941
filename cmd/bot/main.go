// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/chat"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/music"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/app/welcome"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/bot"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/config"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/lavalink"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/logger"
	aiclient "github.com/DancingPumpkin65/ai-discord-bot/internal/infra/openai"
	"github.com/DancingPumpkin65/ai-discord-bot/internal/infra/spotify"
)

var (
	app        = kingpin.New("ai-discord-bot", "Chat assistant, welcome cards and music playback for a guild")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Chat service
	completer := bot.NewLLMCompleter(aiclient.New(aiclient.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
	}))
	chatService := chat.New(chat.Config{
		Completer:       completer,
		SystemPrompt:    cfg.AI.SystemPrompt,
		MaxMemoryLength: cfg.AI.MaxMemoryLength,
	})

	// Collection expansion is optional; without credentials playlist
	// links fall through to plain URL loading.
	var collections music.Collections
	if cfg.Spotify.Enabled() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
		collections = spotifyClient
	} else {
		zlog.Info().Msg("Spotify credentials not configured, collection links disabled")
		collections = spotify.Disabled{}
	}

	// Welcome card pipeline
	library, err := welcome.OpenLibrary(cfg.Welcome.BackgroundsDir)
	if err != nil {
		return fmt.Errorf("failed to open background library: %w", err)
	}
	backgrounds, err := welcome.NewSourceChainFromConfig(cfg.Welcome, library)
	if err != nil {
		return fmt.Errorf("invalid welcome background config: %w", err)
	}
	renderer := welcome.NewRenderer(cfg.Welcome.FontsDir)

	// Audio node and music service. The node needs the bot user ID, so
	// the transport is wired after the gateway session is created but
	// the client itself exists up front.
	node := lavalink.New(lavalink.Config{
		Host:     cfg.Lavalink.Host,
		Port:     cfg.Lavalink.Port,
		Password: cfg.Lavalink.Password,
		Secure:   cfg.Lavalink.Secure,
	})

	b, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	musicService := music.NewService(music.Config{
		Transport:         bot.NewNodeTransport(node, b.Session()),
		Searcher:          node,
		Collections:       collections,
		DisconnectTimeout: cfg.Music.DisconnectTimeout(),
	})

	b.Bind(bot.Deps{
		Music:      musicService,
		Chat:       chatService,
		Node:       node,
		Renderer:   renderer,
		Background: backgrounds,
		Library:    library,
	})

	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	defer b.Stop()

	// The node handshake needs the bot's own user ID, which is only
	// known once the gateway session is open.
	node.SetUserID(b.UserID())
	if err := node.Connect(); err != nil {
		zlog.Warn().Msgf("Audio node unavailable, playback disabled until it comes up: %v", err)
	}

	zlog.Info().Msg("Bot is running, press Ctrl+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("Received shutdown signal...")
	return nil
}
