package handlers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumacast/internal/config"
	"github.com/sonroyaalmerol/kumacast/internal/player"
	"github.com/sonroyaalmerol/kumacast/internal/repository"
)

type Bot struct {
	cfg     *config.Config
	dg      *discordgo.Session
	repo    *repository.Repo
	engine  *player.Engine
	cmd     *CommandHandler
	tracker atomic.Pointer[player.Tracker]
}

// NewSession creates the gateway session the voice gateway and bot share.
func NewSession(cfg *config.Config) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return dg, nil
}

func NewBot(cfg *config.Config, dg *discordgo.Session, repo *repository.Repo, engine *player.Engine) *Bot {
	return &Bot{
		cfg:    cfg,
		dg:     dg,
		repo:   repo,
		engine: engine,
		cmd:    NewCommandHandler(cfg, repo, engine),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	dg := b.dg

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", r.User.Username)
		appID := r.User.ID
		b.tracker.Store(b.engine.Tracker(appID))

		if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
			Status: b.cfg.BotStatus,
			Activities: []*discordgo.Activity{
				{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening},
			},
		}); err != nil {
			slog.Warn("update status failed", "err", err)
		}

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range r.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
					slog.Error("register guild commands", "guild", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			slog.Error("clear global commands", "err", err)
		} else {
			slog.Info("cleared global application commands")
		}
		slog.Info("registered commands on all guilds")
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || s.State.User == nil {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guild", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)

	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		t := b.tracker.Load()
		if t == nil {
			return
		}
		t.HandleVoiceState(ctx, voiceStateChange(vs))
	})

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	go announce(ctx, b.engine.Bus(), dg)

	<-ctx.Done()
	slog.Info("shutting down, leaving voice channels")
	b.engine.Shutdown()
	return nil
}

func voiceStateChange(vs *discordgo.VoiceStateUpdate) player.VoiceStateChange {
	ch := player.VoiceStateChange{
		GuildID:   vs.GuildID,
		UserID:    vs.UserID,
		ChannelID: vs.ChannelID,
	}
	if vs.BeforeUpdate != nil {
		ch.BeforeChannelID = vs.BeforeUpdate.ChannelID
	}
	return ch
}
