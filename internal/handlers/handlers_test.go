package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/sonroyaalmerol/kumacast/internal/player"
)

func newTestState(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	st.User = &discordgo.User{ID: "self", Bot: true}
	if err := st.GuildAdd(&discordgo.Guild{
		ID: "g1",
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "g1", UserID: "self", ChannelID: "vc1"},
			{GuildID: "g1", UserID: "alice", ChannelID: "vc1"},
			{GuildID: "g1", UserID: "otherbot", ChannelID: "vc1"},
			{GuildID: "g1", UserID: "bob", ChannelID: "vc2"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*discordgo.Member{
		{GuildID: "g1", User: &discordgo.User{ID: "alice"}},
		{GuildID: "g1", User: &discordgo.User{ID: "otherbot", Bot: true}},
	} {
		if err := st.MemberAdd(m); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestListenerCount(t *testing.T) {
	st := newTestState(t)
	tests := []struct {
		guild, channel string
		want           int
	}{
		{"g1", "vc1", 1},
		{"g1", "vc2", 1}, // bob is not cached as a member but still counts
		{"g1", "vc3", 0},
		{"g1", "", 0},
		{"missing", "vc1", 0},
	}
	for _, tc := range tests {
		if got := listenerCount(st, tc.guild, tc.channel); got != tc.want {
			t.Errorf("listenerCount(%q, %q) = %d, want %d", tc.guild, tc.channel, got, tc.want)
		}
	}
}

func TestUserInVoice(t *testing.T) {
	st := newTestState(t)
	if ch, ok := userInVoice(st, "g1", "bob"); !ok || ch != "vc2" {
		t.Errorf("userInVoice(bob) = %q, %v", ch, ok)
	}
	if _, ok := userInVoice(st, "g1", "carol"); ok {
		t.Error("carol is not in voice")
	}
}

func TestVoiceStateChange(t *testing.T) {
	got := voiceStateChange(&discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "g1", UserID: "alice", ChannelID: "vc2"},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "g1", UserID: "alice", ChannelID: "vc1"},
	})
	want := player.VoiceStateChange{GuildID: "g1", UserID: "alice", BeforeChannelID: "vc1", ChannelID: "vc2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("voiceStateChange mismatch (-want +got):\n%s", diff)
	}

	got = voiceStateChange(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "g1", UserID: "alice", ChannelID: "vc1"},
	})
	if got.BeforeChannelID != "" {
		t.Errorf("BeforeChannelID = %q, want empty", got.BeforeChannelID)
	}
}

func TestUserLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newUserLimiter(8) // burst of 2
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third request inside the burst window should be refused")
	}
	if !l.Allow("b") {
		t.Fatal("users are limited independently")
	}
	now = now.Add(15 * time.Second)
	if !l.Allow("a") {
		t.Fatal("tokens should refill over time")
	}

	now = now.Add(limiterIdle + time.Minute)
	l.Allow("c")
	if _, ok := l.users["b"]; ok {
		t.Error("idle users should be pruned")
	}

	var disabled *userLimiter
	if !disabled.Allow("a") || newUserLimiter(0) != nil {
		t.Error("a zero rate disables limiting")
	}
}

func TestPlayReply(t *testing.T) {
	item := &player.QueueItem{Request: "q", Metadata: &player.TrackMetadata{Title: "A_B"}}
	if got := playReply(player.PlayResult{Item: item}); got != `**A\_B** is up now` {
		t.Errorf("started reply = %q", got)
	}
	if got := playReply(player.PlayResult{Item: item, Position: 3}); !strings.HasSuffix(got, "position 3") {
		t.Errorf("queued reply = %q", got)
	}
}

func TestOptions(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "query", Type: discordgo.ApplicationCommandOptionString, Value: "never gonna"},
		{Name: "page", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(2)},
	}
	if got := optionString(opts, "query"); got != "never gonna" {
		t.Errorf("query = %q", got)
	}
	if got := optionInt(opts, "page", 1); got != 2 {
		t.Errorf("page = %d", got)
	}
	if got := optionInt(opts, "page-size", 10); got != 10 {
		t.Errorf("page-size default = %d", got)
	}
}

func TestFollowTarget(t *testing.T) {
	caller := &discordgo.Member{User: &discordgo.User{ID: "alice"}}
	interaction := func(opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Member: caller,
			Data:   discordgo.ApplicationCommandInteractionData{Name: "follow", Options: opts},
		}}
	}

	if got := followTarget(interaction()); got != "alice" {
		t.Errorf("without option = %q, want caller", got)
	}
	named := &discordgo.ApplicationCommandInteractionDataOption{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "bob"}
	if got := followTarget(interaction(named)); got != "bob" {
		t.Errorf("with option = %q, want bob", got)
	}
}

type sent struct{ channel, content string }

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
	got  chan struct{}
}

func (f *fakeSender) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{channelID, content})
	f.mu.Unlock()
	f.got <- struct{}{}
	return &discordgo.Message{}, f.err
}

func TestAnnounce(t *testing.T) {
	bus := player.NewEventBus(8)
	s := &fakeSender{got: make(chan struct{}, 8), err: errors.New("rate limited")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		announce(ctx, bus, s)
		close(done)
	}()

	item := &player.QueueItem{Request: "song", RequesterID: "u1"}
	bus.Publish(player.Event{Kind: player.QueueChanged, ChannelID: "t1", Item: item})
	bus.Publish(player.Event{Kind: player.TrackStarted, ChannelID: "", Item: item})
	bus.Publish(player.Event{Kind: player.TrackStarted, ChannelID: "t1", Item: item})
	bus.Publish(player.Event{Kind: player.SessionAbandoned, ChannelID: "t2", Requester: "u1"})

	for range 2 {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for announcements")
		}
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) != 2 || s.msgs[0].channel != "t1" || s.msgs[1].channel != "t2" {
		t.Errorf("unexpected announcements: %+v", s.msgs)
	}
}
