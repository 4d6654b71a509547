package player

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/repository"
)

const maxSessionRetries = 3

type SettingsStore interface {
	GetSettings(ctx context.Context, guildID string) (*repository.Settings, error)
}

type HistoryStore interface {
	RecordPlay(ctx context.Context, rec repository.PlayRecord) error
	CountPlays(ctx context.Context) (int64, error)
}

type EngineOptions struct {
	Resolver  Resolver
	Workers   WorkerFactory
	Joiner    Joiner
	Occupancy Occupancy
	Encoder   EncoderFactory
	Bus       *EventBus
	Locator   UserLocator   // optional, enables follow target checks
	Settings  SettingsStore // optional
	History   HistoryStore  // optional

	Grace         time.Duration
	DefaultVolume float64
}

// Engine is the entry point for the command layer. Every operation is
// addressed by guild ID.
type Engine struct {
	opts     EngineOptions
	registry *Registry
	deps     *sessionDeps
	started  time.Time
	played   atomic.Int64

	mu       sync.Mutex
	creating map[string]*sync.Mutex
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.Bus == nil {
		opts.Bus = NewEventBus(64)
	}
	if opts.Encoder == nil {
		opts.Encoder = OpusEncoderFactory
	}
	if opts.DefaultVolume <= 0 {
		opts.DefaultVolume = 1
	}
	e := &Engine{
		opts:     opts,
		registry: NewRegistry(),
		started:  time.Now(),
		creating: make(map[string]*sync.Mutex),
	}
	e.deps = &sessionDeps{
		resolver:   opts.Resolver,
		workers:    opts.Workers,
		occupancy:  opts.Occupancy,
		newEncoder: opts.Encoder,
		bus:        opts.Bus,
		registry:   e.registry,
		started:    e.recordPlay,
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Bus() *EventBus { return e.opts.Bus }

// Tracker returns a presence tracker bound to this engine's sessions.
func (e *Engine) Tracker(botID string) *Tracker {
	return NewTracker(e.registry, e.opts.Joiner, e.opts.Occupancy, e.opts.Bus, botID)
}

// Play queues req.Query. For a guild without a session the request is
// resolved and the voice channel joined before anything is created, so a
// failure there leaves no state behind.
func (e *Engine) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return PlayResult{}, &ResolutionError{Request: req.Query, Reason: "empty request"}
	}
	for range maxSessionRetries {
		res, err := e.play(ctx, req)
		if errors.Is(err, ErrSessionClosed) {
			slog.Debug("session closed under request, retrying", "guildID", req.GuildID)
			continue
		}
		return res, err
	}
	return PlayResult{}, ErrSessionClosed
}

func (e *Engine) play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if s := e.registry.Get(req.GuildID); s != nil {
		return enqueue(s, NewQueueItem(req.Query, req.UserID, req.TextChannelID))
	}

	l := e.creationLock(req.GuildID)
	l.Lock()
	defer l.Unlock()

	if s := e.registry.Get(req.GuildID); s != nil {
		return enqueue(s, NewQueueItem(req.Query, req.UserID, req.TextChannelID))
	}
	if req.VoiceChannelID == "" {
		return PlayResult{}, ErrUserNotInVoice
	}

	meta, err := e.opts.Resolver.Resolve(ctx, req.Query)
	if err != nil {
		var re *ResolutionError
		if !errors.As(err, &re) {
			err = &ResolutionError{Request: req.Query, Reason: "lookup failed", Cause: err}
		}
		return PlayResult{}, err
	}

	conn, err := e.opts.Joiner.Join(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		slog.Warn("voice join failed", "guildID", req.GuildID, "channelID", req.VoiceChannelID, "err", err)
		return PlayResult{}, &JoinError{ChannelID: req.VoiceChannelID, Cause: err}
	}

	item := NewQueueItem(req.Query, req.UserID, req.TextChannelID)
	item.Metadata = &meta
	volume, grace := e.guildSettings(ctx, req.GuildID)
	s, _ := e.registry.GetOrCreate(req.GuildID, func() *Session {
		return newSession(req.GuildID, conn, e.deps, volume, grace)
	})
	return enqueue(s, item)
}

func enqueue(s *Session, item *QueueItem) (PlayResult, error) {
	snap := item.snapshot()
	pos, err := s.Enqueue(item)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{Item: snap, Position: pos}, nil
}

func (e *Engine) creationLock(guildID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.creating[guildID]
	if !ok {
		l = &sync.Mutex{}
		e.creating[guildID] = l
	}
	return l
}

func (e *Engine) guildSettings(ctx context.Context, guildID string) (volume float64, grace time.Duration) {
	volume, grace = e.opts.DefaultVolume, e.opts.Grace
	if e.opts.Settings == nil {
		return volume, grace
	}
	st, err := e.opts.Settings.GetSettings(ctx, guildID)
	if err != nil || st == nil {
		if err != nil {
			slog.Warn("load guild settings failed", "guildID", guildID, "err", err)
		}
		return volume, grace
	}
	if st.DefaultVolume > 0 && st.DefaultVolume <= 200 {
		volume = float64(st.DefaultVolume) / 100
	}
	if st.SecondsWaitAfterEmpty >= 0 {
		grace = time.Duration(st.SecondsWaitAfterEmpty) * time.Second
	}
	return volume, grace
}

func (e *Engine) recordPlay(guildID string, item *QueueItem) {
	e.played.Add(1)
	if e.opts.History == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := repository.PlayRecord{
			GuildID:     guildID,
			RequesterID: item.RequesterID,
			Request:     item.Request,
			Title:       item.Describe(),
		}
		if err := e.opts.History.RecordPlay(ctx, rec); err != nil {
			slog.Warn("record play failed", "guildID", guildID, "err", err)
		}
	}()
}

func (e *Engine) session(guildID string) (*Session, error) {
	s := e.registry.Get(guildID)
	if s == nil {
		return nil, ErrNotConnected
	}
	return s, nil
}

func (e *Engine) Pause(guildID string) error {
	s, err := e.session(guildID)
	if err != nil {
		return ErrNothingPlaying
	}
	ok, err := s.Pause()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyPaused
	}
	return nil
}

func (e *Engine) Resume(guildID string) error {
	s, err := e.session(guildID)
	if err != nil {
		return ErrNothingPlaying
	}
	ok, err := s.Resume()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyPlaying
	}
	return nil
}

func (e *Engine) Skip(guildID string) (*QueueItem, error) {
	s, err := e.session(guildID)
	if err != nil {
		return nil, ErrNothingPlaying
	}
	return s.Skip()
}

func (e *Engine) Leave(guildID string) error {
	s, err := e.session(guildID)
	if err != nil {
		return err
	}
	s.Leave()
	return nil
}

func (e *Engine) Stop(guildID string) error { return e.Leave(guildID) }

func (e *Engine) NowPlaying(guildID string) (NowPlaying, error) {
	s, err := e.session(guildID)
	if err != nil {
		return NowPlaying{}, ErrNothingPlaying
	}
	np := s.NowPlaying()
	if np.Item == nil {
		return np, ErrNothingPlaying
	}
	return np, nil
}

// Queue returns the pending items together with what is playing now.
func (e *Engine) Queue(guildID string) (QueueSummary, NowPlaying, error) {
	s, err := e.session(guildID)
	if err != nil {
		return QueueSummary{}, NowPlaying{}, ErrNothingPlaying
	}
	return s.Queue(), s.NowPlaying(), nil
}

func (e *Engine) Remove(guildID string, index int) (*QueueItem, error) {
	s, err := e.session(guildID)
	if err != nil {
		return nil, ErrInvalidIndex
	}
	return s.RemoveAt(index)
}

// Volume sets the volume when v is non-nil and returns the value in effect.
func (e *Engine) Volume(guildID string, v *float64) (float64, error) {
	s, err := e.session(guildID)
	if err != nil {
		return 0, ErrNothingPlaying
	}
	if v != nil {
		if err := s.SetVolume(*v); err != nil {
			return 0, err
		}
	}
	cur, ok := s.Volume()
	if !ok {
		return 0, ErrNothingPlaying
	}
	return cur, nil
}

// Follow toggles userID as the follow target and moves the bot into the
// target's channel. It returns the target in effect afterwards, empty when
// following was turned off. ErrUnknownFollower is returned when the target
// is not in voice.
func (e *Engine) Follow(ctx context.Context, guildID, userID string) (string, error) {
	s, err := e.session(guildID)
	if err != nil {
		return "", err
	}
	if userID == "" || s.FollowTarget() == userID {
		s.SetFollowTarget("")
		return "", nil
	}
	if e.opts.Locator != nil {
		ch, ok := e.opts.Locator.UserChannel(guildID, userID)
		if !ok {
			return "", ErrUnknownFollower
		}
		if ch != s.ChannelID() {
			relocate(ctx, e.opts.Joiner, s, ch)
		}
	}
	s.SetFollowTarget(userID)
	return userID, nil
}

func (e *Engine) Stats(ctx context.Context) Stats {
	st := Stats{Uptime: time.Since(e.started), TracksPlayed: e.played.Load()}
	for _, s := range e.registry.Snapshot() {
		st.Sessions++
		switch s.State() {
		case StatePlaying:
			st.Playing++
		case StatePaused:
			st.Paused++
		}
		st.Queued += s.QueueLen()
	}
	if e.opts.History != nil {
		if n, err := e.opts.History.CountPlays(ctx); err != nil {
			slog.Warn("count plays failed", "err", err)
		} else {
			st.TracksPlayed = n
		}
	}
	return st
}

// Shutdown leaves every guild.
func (e *Engine) Shutdown() {
	for _, s := range e.registry.Snapshot() {
		s.Leave()
	}
}
