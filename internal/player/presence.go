package player

import (
	"context"
	"log/slog"
)

// VoiceStateChange is one membership change reported by the gateway.
type VoiceStateChange struct {
	GuildID         string
	UserID          string
	BeforeChannelID string // empty when unknown or newly joined
	ChannelID       string // empty when the user left voice
}

// Tracker reacts to voice membership changes: it pauses abandoned sessions,
// follows the follow target around and keeps the sink on the bot's current
// connection. It only uses Session's exported operations.
type Tracker struct {
	registry  *Registry
	joiner    Joiner
	occupancy Occupancy
	bus       *EventBus
	botID     string
}

func NewTracker(registry *Registry, joiner Joiner, occupancy Occupancy, bus *EventBus, botID string) *Tracker {
	return &Tracker{registry: registry, joiner: joiner, occupancy: occupancy, bus: bus, botID: botID}
}

func (t *Tracker) HandleVoiceState(ctx context.Context, ch VoiceStateChange) {
	s := t.registry.Get(ch.GuildID)
	if s == nil {
		return
	}

	if ch.UserID == t.botID {
		t.handleBot(ctx, s, ch)
		return
	}

	if target := s.FollowTarget(); target != "" && target == ch.UserID &&
		ch.ChannelID != "" && ch.ChannelID != s.ChannelID() {
		t.relocate(ctx, s, ch.ChannelID)
		if s.ResumeIfAutoPaused() {
			slog.Info("resumed after following", "guildID", ch.GuildID, "channelID", ch.ChannelID)
		}
		return
	}

	cur := s.ChannelID()
	if cur != "" && (ch.BeforeChannelID == cur || ch.ChannelID == cur) {
		t.checkAbandoned(s, cur)
	}
}

func (t *Tracker) handleBot(ctx context.Context, s *Session, ch VoiceStateChange) {
	if ch.ChannelID == "" {
		s.ConnectionLost()
		return
	}
	if ch.ChannelID != s.ChannelID() {
		t.relocate(ctx, s, ch.ChannelID)
	}
	t.checkAbandoned(s, ch.ChannelID)
}

func (t *Tracker) relocate(ctx context.Context, s *Session, channelID string) {
	relocate(ctx, t.joiner, s, channelID)
}

// relocate joins channelID and moves the session's sink onto the new
// connection.
func relocate(ctx context.Context, joiner Joiner, s *Session, channelID string) {
	conn, err := joiner.Join(ctx, s.GuildID(), channelID)
	if err != nil {
		slog.Warn("rejoin failed", "guildID", s.GuildID(), "channelID", channelID, "err", err)
		return
	}
	if err := s.Relocate(conn); err != nil {
		slog.Warn("rebind failed", "guildID", s.GuildID(), "channelID", channelID, "err", err)
	}
}

func (t *Tracker) checkAbandoned(s *Session, channelID string) {
	if t.occupancy.ListenerCount(s.GuildID(), channelID) > 0 {
		return
	}
	if !s.AutoPause() {
		return
	}
	requester, text := s.lastRequest()
	slog.Info("paused, channel is empty", "guildID", s.GuildID(), "channelID", channelID)
	t.bus.Publish(Event{
		Kind:      SessionAbandoned,
		GuildID:   s.GuildID(),
		Requester: requester,
		ChannelID: text,
	})
}
