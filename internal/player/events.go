package player

import "log/slog"

type EventKind int

const (
	TrackStarted EventKind = iota
	TrackUpdated
	TrackEnded
	TrackFailed
	QueueChanged
	SessionDestroyed
	SessionAbandoned
)

func (k EventKind) String() string {
	switch k {
	case TrackStarted:
		return "track_started"
	case TrackUpdated:
		return "track_updated"
	case TrackEnded:
		return "track_ended"
	case TrackFailed:
		return "track_failed"
	case QueueChanged:
		return "queue_changed"
	case SessionDestroyed:
		return "session_destroyed"
	case SessionAbandoned:
		return "session_abandoned"
	}
	return "unknown"
}

// Event is what the engine reports to the reply-formatting layer. Item is a
// copy; Err is one of the error kinds in errors.go.
type Event struct {
	Kind      EventKind
	GuildID   string
	Item      *QueueItem
	Skipped   bool
	QueueLen  int
	Err       error
	Requester string // SessionAbandoned: last requester to notify
	ChannelID string // text channel for the notice
}

// EventBus fans engine events out to a single consumer. Publishing never
// blocks; events are dropped when the consumer falls behind.
type EventBus struct {
	ch chan Event
}

func NewEventBus(size int) *EventBus {
	return &EventBus{ch: make(chan Event, size)}
}

func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	select {
	case b.ch <- ev:
	default:
		slog.Warn("event bus full, dropping event", "guildID", ev.GuildID, "kind", ev.Kind.String())
	}
}

func (b *EventBus) Events() <-chan Event { return b.ch }
