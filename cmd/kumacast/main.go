package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonroyaalmerol/kumacast/internal/cache"
	"github.com/sonroyaalmerol/kumacast/internal/config"
	"github.com/sonroyaalmerol/kumacast/internal/handlers"
	"github.com/sonroyaalmerol/kumacast/internal/player"
	"github.com/sonroyaalmerol/kumacast/internal/repository"
	"github.com/sonroyaalmerol/kumacast/internal/spotify"
	"github.com/sonroyaalmerol/kumacast/internal/stream"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	repo := repository.NewRepo(db)
	defer repo.Close()
	repo.SetDefaultSettings(int(cfg.GracePeriod.Seconds()), int(cfg.DefaultVolume*100+0.5))

	clips := repository.NewClipsService(repo)
	if cfg.ClipsFile != "" {
		n, err := clips.LoadFile(ctx, cfg.ClipsFile)
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("loaded clips", "count", n, "file", cfg.ClipsFile)
	}

	fc, err := cache.NewFileCache(cfg.CacheDir, cfg.CacheLimitBytes, repo)
	if err != nil {
		log.Fatal(err)
	}

	var sp player.SpotifyTracks
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp = spotify.NewClientCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	lookup := stream.NewYtdlp(stream.YtdlpOptions{
		CookiesPath: cfg.YouTubeCookiesPath,
		POToken:     cfg.YouTubePOToken,
	})

	dg, err := handlers.NewSession(cfg)
	if err != nil {
		log.Fatal(err)
	}
	voice := handlers.NewVoiceGateway(dg)

	engine := player.NewEngine(player.EngineOptions{
		Resolver:      player.NewSourceResolver(clips, lookup, sp),
		Workers:       player.NewPCMWorkerFactory(fc),
		Joiner:        voice,
		Occupancy:     voice,
		Locator:       voice,
		Bus:           player.NewEventBus(256),
		Settings:      repo,
		History:       repo,
		Grace:         cfg.GracePeriod,
		DefaultVolume: cfg.DefaultVolume,
	})

	bot := handlers.NewBot(cfg, dg, repo, engine)
	if err := bot.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
