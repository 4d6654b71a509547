package player

import "context"

// VoiceConn is a live voice connection. It is shared per guild, so the
// session releases it on teardown but does not own its lifecycle beyond
// that.
type VoiceConn interface {
	ChannelID() string
	// SendOpus pushes one Opus packet. pkt is only valid during the call.
	SendOpus(ctx context.Context, pkt []byte) error
	Speaking(on bool) error
	Disconnect() error
}

type Joiner interface {
	Join(ctx context.Context, guildID, channelID string) (VoiceConn, error)
}

// Occupancy reports how many listeners other than the bot are in a voice
// channel.
type Occupancy interface {
	ListenerCount(guildID, channelID string) int
}

// UserLocator reports the voice channel a user is currently in.
type UserLocator interface {
	UserChannel(guildID, userID string) (channelID string, ok bool)
}
