package config

import "time"

type Config struct {
	DiscordToken          string        `env:"DISCORD_TOKEN, required"`
	SpotifyClientID       string        `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret   string        `env:"SPOTIFY_CLIENT_SECRET"`
	DataDir               string        `env:"DATA_DIR, default=./data"`
	CacheLimitBytes       int64         `env:"CACHE_LIMIT, default=2147483648"` // 2GB
	ClipsFile             string        `env:"CLIPS_FILE"`
	BotStatus             string        `env:"BOT_STATUS, default=online"` // online/dnd/idle
	BotActivity           string        `env:"BOT_ACTIVITY, default=music"`
	RegisterCommandsOnBot bool          `env:"REGISTER_COMMANDS_ON_BOT, default=false"`
	YouTubeCookiesPath    string        `env:"YOUTUBE_COOKIES_PATH"`
	YouTubePOToken        string        `env:"YOUTUBE_PO_TOKEN"`
	GracePeriod           time.Duration `env:"GRACE_PERIOD, default=30s"`
	DefaultVolume         float64       `env:"DEFAULT_VOLUME, default=1"`
	PlaysPerMinute        int           `env:"PLAY_RATE, default=20"`
	LogLevel              string        `env:"LOG_LEVEL, default=info"`

	// derived from DataDir
	CacheDir string
}
