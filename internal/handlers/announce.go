package handlers

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumacast/internal/player"
	"github.com/sonroyaalmerol/kumacast/internal/ui"
)

type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// announce posts engine events to the text channel they belong to until
// ctx is done.
func announce(ctx context.Context, bus *player.EventBus, s messageSender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-bus.Events():
			slog.Debug("engine event", "guildID", ev.GuildID, "kind", ev.Kind.String(), "queueLen", ev.QueueLen)
			msg, ok := ui.EventMessage(ev)
			if !ok || ev.ChannelID == "" {
				continue
			}
			if _, err := s.ChannelMessageSend(ev.ChannelID, msg); err != nil {
				slog.Warn("announce failed", "guildID", ev.GuildID, "channelID", ev.ChannelID, "kind", ev.Kind.String(), "err", err)
			}
		}
	}
}
