package player

import (
	"time"

	"github.com/google/uuid"
)

type SourceKind int

const (
	SourceRemote SourceKind = iota
	SourceClip
	// SourceDirect is a plain media URL whose metadata is only known once
	// the stream is opened.
	SourceDirect
)

func (k SourceKind) String() string {
	switch k {
	case SourceClip:
		return "clip"
	case SourceDirect:
		return "direct"
	default:
		return "remote"
	}
}

type TrackMetadata struct {
	Title     string
	Uploader  string
	Duration  time.Duration // zero for clips and deferred sources
	Thumbnail string
	Locator   string // stream URL or local clip path
	Likes     *int64
	Views     *int64
	Source    SourceKind
	Deferred  bool
}

type QueueItem struct {
	ID            uuid.UUID
	Request       string
	RequesterID   string
	TextChannelID string
	Metadata      *TrackMetadata
	EnqueuedAt    time.Time
}

func NewQueueItem(request, requesterID, textChannelID string) *QueueItem {
	return &QueueItem{
		ID:            uuid.New(),
		Request:       request,
		RequesterID:   requesterID,
		TextChannelID: textChannelID,
		EnqueuedAt:    time.Now(),
	}
}

// Describe returns the resolved title, or the raw request while unresolved.
func (q *QueueItem) Describe() string {
	if q.Metadata != nil && q.Metadata.Title != "" {
		return q.Metadata.Title
	}
	return q.Request
}

// snapshot returns a copy safe to hand out of the session lock.
func (q *QueueItem) snapshot() *QueueItem {
	if q == nil {
		return nil
	}
	c := *q
	if q.Metadata != nil {
		m := *q.Metadata
		c.Metadata = &m
	}
	return &c
}

type State int

const (
	StateEmpty State = iota
	StateLoading
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "empty"
	}
}

type PlayRequest struct {
	GuildID        string
	UserID         string
	VoiceChannelID string // the requester's current voice channel
	TextChannelID  string
	Query          string
}

type PlayResult struct {
	Item *QueueItem
	// Position is the 1-based queue position, 0 when the item started
	// right away.
	Position int
}

type NowPlaying struct {
	Item    *QueueItem
	State   State
	Elapsed time.Duration
	Volume  float64
	Follow  string
}

type Stats struct {
	Sessions     int
	Playing      int
	Paused       int
	Queued       int
	TracksPlayed int64
	Uptime       time.Duration
}
