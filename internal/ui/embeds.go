package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumacast/internal/player"
	"github.com/sonroyaalmerol/kumacast/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorError   = 0x992222
)

func trackLink(it *player.QueueItem) string {
	title := utils.EscapeMd(it.Describe())
	if m := it.Metadata; m != nil && m.Source != player.SourceClip && strings.HasPrefix(it.Request, "http") {
		return fmt.Sprintf("[%s](%s)", title, it.Request)
	}
	return title
}

func durationText(it *player.QueueItem) string {
	if it.Metadata == nil || it.Metadata.Duration <= 0 {
		return "?"
	}
	return utils.PrettyTime(int(it.Metadata.Duration.Seconds()))
}

func BuildPlayingEmbed(np player.NowPlaying) *discordgo.MessageEmbed {
	cur := np.Item
	if cur == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No playing song found",
			Color:       colorError,
		}
	}
	button := "⏹️"
	title := "Now Playing"
	color := colorPlaying
	if np.State == player.StatePaused {
		button = "▶️"
		title = "Paused"
		color = colorPaused
	}

	pos := int(np.Elapsed.Seconds())
	progress := 0.0
	elapsed := utils.PrettyTime(pos)
	if cur.Metadata != nil && cur.Metadata.Duration > 0 {
		progress = np.Elapsed.Seconds() / cur.Metadata.Duration.Seconds()
		elapsed += "/" + durationText(cur)
	}

	desc := fmt.Sprintf("**%s**\nRequested by: <@%s>\n\n%s %s `[ %s ]` 🔊 %d%%",
		trackLink(cur), cur.RequesterID, button, ProgressBar(10, progress), elapsed, int(np.Volume*100+0.5))
	if np.Follow != "" {
		desc += fmt.Sprintf("\nFollowing <@%s>", np.Follow)
	}

	embed := &discordgo.MessageEmbed{Title: title, Description: desc, Color: color}
	if m := cur.Metadata; m != nil {
		if m.Uploader != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: "Source: " + m.Uploader}
		}
		if m.Thumbnail != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: m.Thumbnail}
		}
	}
	return embed
}

func BuildQueueEmbed(sum player.QueueSummary, np player.NowPlaying, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if np.Item == nil && sum.Len() == 0 {
		return nil, errors.New("queue is empty")
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if page <= 0 {
		page = 1
	}
	maxPage := max(1, (sum.Len()+pageSize-1)/pageSize)
	if page > maxPage {
		return nil, errors.New("the queue isn't that big")
	}

	var b strings.Builder
	if np.Item != nil {
		fmt.Fprintf(&b, "**%s**\nRequested by: <@%s>\n\n", trackLink(np.Item), np.Item.RequesterID)
	}
	begin := (page - 1) * pageSize
	i := 0
	for line := range sum.Lines() {
		if i >= begin+pageSize {
			break
		}
		if i >= begin {
			if i == begin {
				b.WriteString("**Up next:**\n")
			}
			b.WriteString(utils.EscapeMd(line))
			b.WriteByte('\n')
		}
		i++
	}

	total := "-"
	if sum.Total > 0 {
		total = utils.PrettyTime(int(sum.Total.Seconds()))
		if sum.Approximate {
			total = "~" + total
		}
	}

	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: queueCount(sum.Len()), Inline: true},
			{Name: "Total length", Value: total, Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}, nil
}

func queueCount(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 song"
	}
	return fmt.Sprintf("%d songs", n)
}

func BuildStatsEmbed(st player.Stats) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Stats",
		Color: colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Sessions", Value: fmt.Sprint(st.Sessions), Inline: true},
			{Name: "Playing", Value: fmt.Sprint(st.Playing), Inline: true},
			{Name: "Paused", Value: fmt.Sprint(st.Paused), Inline: true},
			{Name: "Queued", Value: fmt.Sprint(st.Queued), Inline: true},
			{Name: "Tracks played", Value: fmt.Sprint(st.TracksPlayed), Inline: true},
			{Name: "Uptime", Value: utils.PrettyTime(int(st.Uptime.Seconds())), Inline: true},
		},
	}
}

// EventMessage renders an engine event for its text channel. ok is false
// for events that are not announced.
func EventMessage(ev player.Event) (msg string, ok bool) {
	switch ev.Kind {
	case player.TrackStarted:
		return fmt.Sprintf("▶️ Now playing **%s** `[%s]` (requested by <@%s>)",
			utils.EscapeMd(ev.Item.Describe()), durationText(ev.Item), ev.Item.RequesterID), true
	case player.TrackFailed:
		return fmt.Sprintf("⚠️ Skipped **%s**: %s", utils.EscapeMd(ev.Item.Describe()), ErrorText(ev.Err)), true
	case player.SessionAbandoned:
		return fmt.Sprintf("⏸️ <@%s> everyone left, so playback is paused. Join the channel and use `/resume` to continue.", ev.Requester), true
	case player.SessionDestroyed:
		var lost *player.ConnectionLost
		if errors.As(ev.Err, &lost) {
			return "👋 I was disconnected from voice. Use `/play` to start again.", true
		}
	}
	return "", false
}

// ErrorText maps engine errors to short chat replies. Raw causes are never
// shown.
func ErrorText(err error) string {
	var (
		re   *player.ResolutionError
		de   *player.DecodeError
		se   *player.SinkError
		je   *player.JoinError
		lost *player.ConnectionLost
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return "couldn't play that: " + re.Reason
	case errors.As(err, &de):
		return "the audio stream failed"
	case errors.As(err, &se):
		return "voice playback failed"
	case errors.As(err, &je):
		return "I can't join that voice channel"
	case errors.As(err, &lost):
		return "I was disconnected from voice"
	case errors.Is(err, player.ErrInvalidIndex),
		errors.Is(err, player.ErrNothingPlaying),
		errors.Is(err, player.ErrNotConnected),
		errors.Is(err, player.ErrAlreadyPaused),
		errors.Is(err, player.ErrAlreadyPlaying),
		errors.Is(err, player.ErrInvalidVolume),
		errors.Is(err, player.ErrUserNotInVoice),
		errors.Is(err, player.ErrUnknownFollower):
		return err.Error()
	case errors.Is(err, player.ErrAloneInChannel):
		return "nobody else is listening; join the voice channel first"
	}
	return "something went wrong"
}
