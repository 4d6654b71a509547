package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumacast/internal/config"
	"github.com/sonroyaalmerol/kumacast/internal/player"
	"github.com/sonroyaalmerol/kumacast/internal/repository"
	"github.com/sonroyaalmerol/kumacast/internal/ui"
	"github.com/sonroyaalmerol/kumacast/internal/utils"
)

const (
	playTimeout     = 2 * time.Minute
	defaultPageSize = 10
	maxPageSize     = 30
)

type CommandHandler struct {
	cfg    *config.Config
	repo   *repository.Repo
	engine *player.Engine
	limits *userLimiter
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, engine *player.Engine) *CommandHandler {
	return &CommandHandler{
		cfg:    cfg,
		repo:   repo,
		engine: engine,
		limits: newUserLimiter(cfg.PlaysPerMinute),
	}
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Play a song (URL, Spotify track link, clip phrase, or search)",
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
		},
	},
	{Name: "pause", Description: "pause the current song"},
	{Name: "resume", Description: "resume playback"},
	{Name: "skip", Description: "skip to the next song"},
	{Name: "leave", Description: "leave the voice channel"},
	{Name: "stop", Description: "stop playback, clear the queue and leave"},
	{Name: "now-playing", Description: "show the current song"},
	{
		Name:        "queue",
		Description: "show the current queue",
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
			{Name: "page-size", Description: "how many items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
		},
	},
	{
		Name:        "remove",
		Description: "remove a song from the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "position", Description: "position of the song to remove", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
		},
	},
	{
		Name:        "volume",
		Description: "show or set the volume",
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "level", Description: "percent, 1-200", Type: discordgo.ApplicationCommandOptionInteger},
		},
	},
	{
		Name:        "follow",
		Description: "toggle following a user between voice channels",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user to follow, defaults to you"},
		},
	},
	{Name: "stats", Description: "show playback stats"},
	{
		Name:        "config",
		Description: "Configure bot settings",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-wait-after-queue-empties", Description: "time to wait before leaving VC", Options: []*discordgo.ApplicationCommandOption{
				{Name: "delay", Description: "seconds (0 leaves right away)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			}},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-volume", Description: "default volume", Options: []*discordgo.ApplicationCommandOption{
				{Name: "level", Description: "percent, 1-200", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			}},
		},
	},
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	slog.Info("registering application commands", "appID", appID, "guildID", guildID)

	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, commands); err != nil {
		slog.Error("failed to register application commands", "guildID", guildID, "err", err)
		return err
	}

	slog.Info("finished registering commands", "guildID", guildID, "count", len(commands), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
		return
	}
	if i.GuildID == "" {
		h.reply(s, i, "commands only work in a server", true)
		return
	}
	data := i.ApplicationCommandData()
	slog.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", data.Name)

	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "skip":
		h.cmdSkip(s, i)
	case "leave":
		h.cmdLeave(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "remove":
		h.cmdRemove(s, i)
	case "volume":
		h.cmdVolume(s, i)
	case "follow":
		h.cmdFollow(s, i)
	case "stats":
		h.cmdStats(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		slog.Debug("unknown command", "name", data.Name, "guildID", i.GuildID, "userID", userIDOf(i))
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	h.respond(s, i, &discordgo.InteractionResponseData{Content: content}, ephemeral)
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	h.respond(s, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}, ephemeral)
}

func (h *CommandHandler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData, ephemeral bool) {
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func userInVoice(st *discordgo.State, guildID, userID string) (channelID string, ok bool) {
	if st == nil {
		return "", false
	}
	vs, err := st.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	query := optionString(i.ApplicationCommandData().Options, "query")
	userID := userIDOf(i)
	slog.Info("cmd play", "guildID", i.GuildID, "userID", userID, "query", query)

	if !h.limits.Allow(userID) {
		h.reply(s, i, "slow down, you're queueing too fast", true)
		return
	}
	chID, _ := userInVoice(s.State, i.GuildID, userID)

	h.deferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()
	res, err := h.engine.Play(ctx, player.PlayRequest{
		GuildID:        i.GuildID,
		UserID:         userID,
		VoiceChannelID: chID,
		TextChannelID:  i.ChannelID,
		Query:          query,
	})
	if err != nil {
		slog.Debug("play failed", "guildID", i.GuildID, "userID", userID, "query", query, "err", err)
		h.editReply(s, i, ui.ErrorText(err))
		return
	}
	h.editReply(s, i, playReply(res))
}

func playReply(res player.PlayResult) string {
	title := utils.EscapeMd(res.Item.Describe())
	if res.Position == 0 {
		return fmt.Sprintf("**%s** is up now", title)
	}
	return fmt.Sprintf("**%s** added to the queue at position %d", title, res.Position)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.engine.Pause(i.GuildID); err != nil {
		slog.Debug("pause failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now red", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.engine.Resume(i.GuildID); err != nil {
		slog.Debug("resume failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now green", false)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	skipped, err := h.engine.Skip(i.GuildID)
	if err != nil {
		slog.Debug("skip failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd skip", "guildID", i.GuildID, "userID", userIDOf(i), "title", skipped.Describe())
	h.reply(s, i, fmt.Sprintf("skipped **%s**", utils.EscapeMd(skipped.Describe())), false)
}

func (h *CommandHandler) cmdLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.engine.Leave(i.GuildID); err != nil {
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd leave", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, disconnected", false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.engine.Stop(i.GuildID); err != nil {
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, stopped", false)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	np, err := h.engine.NowPlaying(i.GuildID)
	if err != nil || np.Item == nil {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	slog.Debug("cmd now-playing", "guildID", i.GuildID, "userID", userIDOf(i), "title", np.Item.Describe())
	h.replyEmbed(s, i, ui.BuildPlayingEmbed(np), false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	page := int(optionInt(opts, "page", 1))
	pageSize := min(max(int(optionInt(opts, "page-size", defaultPageSize)), 1), maxPageSize)

	sum, np, err := h.engine.Queue(i.GuildID)
	if err != nil {
		h.reply(s, i, "queue is empty", true)
		return
	}
	embed, err := ui.BuildQueueEmbed(sum, np, page, pageSize)
	if err != nil {
		slog.Debug("build queue embed failed", "guildID", i.GuildID, "page", page, "pageSize", pageSize, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Debug("cmd queue", "guildID", i.GuildID, "userID", userIDOf(i), "page", page, "pageSize", pageSize)
	h.replyEmbed(s, i, embed, true)
}

func (h *CommandHandler) cmdRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	pos := int(optionInt(i.ApplicationCommandData().Options, "position", 0))
	removed, err := h.engine.Remove(i.GuildID, pos)
	if err != nil {
		slog.Debug("remove from queue failed", "guildID", i.GuildID, "pos", pos, "err", err)
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd remove", "guildID", i.GuildID, "userID", userIDOf(i), "pos", pos)
	h.reply(s, i, fmt.Sprintf(":wastebasket: removed **%s**", utils.EscapeMd(removed.Describe())), false)
}

func (h *CommandHandler) cmdVolume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var set *float64
	if pct, ok := findOption(i.ApplicationCommandData().Options, "level"); ok {
		v := float64(pct.IntValue()) / 100
		set = &v
	}
	cur, err := h.engine.Volume(i.GuildID, set)
	if err != nil {
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	if set != nil {
		slog.Info("cmd volume", "guildID", i.GuildID, "userID", userIDOf(i), "volume", cur)
	}
	h.reply(s, i, fmt.Sprintf("🔊 volume is %d%%", int(cur*100+0.5)), set == nil)
}

func (h *CommandHandler) cmdFollow(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	target, err := h.engine.Follow(ctx, i.GuildID, followTarget(i))
	if err != nil {
		h.reply(s, i, ui.ErrorText(err), true)
		return
	}
	slog.Info("cmd follow", "guildID", i.GuildID, "userID", userIDOf(i), "target", target)
	if target == "" {
		h.reply(s, i, "no longer following anyone", false)
		return
	}
	h.reply(s, i, fmt.Sprintf("following <@%s> between channels", target), false)
}

func (h *CommandHandler) cmdStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.replyEmbed(s, i, ui.BuildStatsEmbed(h.engine.Stats(ctx)), true)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("upsert settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to fetch config", true)
		return
	}
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "get":
		wait := "leave right away"
		if set.SecondsWaitAfterEmpty > 0 {
			wait = fmt.Sprintf("%ds", set.SecondsWaitAfterEmpty)
		}
		slog.Debug("config get", "guildID", i.GuildID)
		h.reply(s, i, fmt.Sprintf("Config\n- Wait before leaving after queue empty: %s\n- Default volume: %d%%", wait, set.DefaultVolume), false)
		return
	case "set-wait-after-queue-empties":
		delay := int(sub.Options[0].IntValue())
		if delay < 0 {
			h.reply(s, i, "delay can't be negative", true)
			return
		}
		set.SecondsWaitAfterEmpty = delay
	case "set-default-volume":
		level := int(sub.Options[0].IntValue())
		if level < 1 || level > 200 {
			h.reply(s, i, player.ErrInvalidVolume.Error(), true)
			return
		}
		set.DefaultVolume = level
	default:
		return
	}
	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		slog.Error("update settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to save config", true)
		return
	}
	slog.Info("config updated", "guildID", i.GuildID, "key", sub.Name)
	h.reply(s, i, "👍 config updated", false)
}

func findOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) (*discordgo.ApplicationCommandInteractionDataOption, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o, ok := findOption(opts, name); ok {
		return o.StringValue()
	}
	return ""
}

func optionInt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string, def int64) int64 {
	if o, ok := findOption(opts, name); ok {
		return o.IntValue()
	}
	return def
}

func optionUser(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o, ok := findOption(opts, name); ok {
		return o.UserValue(nil).ID
	}
	return ""
}

// followTarget is the mentioned user, or the caller when nobody was named.
func followTarget(i *discordgo.InteractionCreate) string {
	if id := optionUser(i.ApplicationCommandData().Options, "user"); id != "" {
		return id
	}
	return userIDOf(i)
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	return i.Member.User.ID
}
