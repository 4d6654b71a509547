package handlers

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/kumacast/internal/player"
)

// VoiceGateway adapts a discordgo session to the engine's voice and
// occupancy interfaces.
type VoiceGateway struct {
	s *discordgo.Session
}

func NewVoiceGateway(s *discordgo.Session) *VoiceGateway {
	return &VoiceGateway{s: s}
}

// Join connects to channelID, moving an existing connection in the guild if
// there is one.
func (g *VoiceGateway) Join(ctx context.Context, guildID, channelID string) (player.VoiceConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("voice join: %w", err)
	}
	return &voiceConn{vc: vc}, nil
}

func (g *VoiceGateway) UserChannel(guildID, userID string) (string, bool) {
	return userInVoice(g.s.State, guildID, userID)
}

func (g *VoiceGateway) ListenerCount(guildID, channelID string) int {
	return listenerCount(g.s.State, guildID, channelID)
}

// listenerCount counts users other than bots in a voice channel. Users
// missing from the member cache are counted.
func listenerCount(st *discordgo.State, guildID, channelID string) int {
	if st == nil || channelID == "" {
		return 0
	}
	g, err := st.Guild(guildID)
	if err != nil || g == nil {
		return 0
	}
	self := ""
	if st.User != nil {
		self = st.User.ID
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		if m, _ := st.Member(guildID, vs.UserID); m != nil && m.User != nil && m.User.Bot {
			continue
		}
		n++
	}
	return n
}

type voiceConn struct {
	vc *discordgo.VoiceConnection
}

func (c *voiceConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *voiceConn) SendOpus(ctx context.Context, pkt []byte) error {
	buf := make([]byte, len(pkt))
	copy(buf, pkt)
	select {
	case c.vc.OpusSend <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *voiceConn) Speaking(on bool) error {
	return c.vc.Speaking(on)
}

func (c *voiceConn) Disconnect() error {
	return c.vc.Disconnect()
}
