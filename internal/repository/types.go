package repository

import "database/sql"

type Repo struct {
	db *sql.DB

	// defaults for guilds without a settings row
	waitAfterEmpty int
	volume         int
}

type Settings struct {
	GuildID               string
	SecondsWaitAfterEmpty int
	DefaultVolume         int // percent, 100 = unity gain
}

type Clip struct {
	Phrase string
	Path   string
}

type PlayRecord struct {
	GuildID     string
	RequesterID string
	Request     string
	Title       string
}
