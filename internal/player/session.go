package player

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

type sessionDeps struct {
	resolver   Resolver
	workers    WorkerFactory
	occupancy  Occupancy
	newEncoder EncoderFactory
	bus        *EventBus
	registry   *Registry
	// started is called under the session lock and must not block.
	started func(guildID string, item *QueueItem)
}

// Session is the playback state machine of one guild:
// Empty -> Loading -> Playing <-> Paused -> (Loading | Empty).
//
// All fields are guarded by mu. Asynchronous completions (resolution, sink
// events) carry the token that was current when they were started and are
// dropped once the token has moved on.
type Session struct {
	guildID string
	deps    *sessionDeps
	grace   time.Duration

	mu          sync.Mutex
	state       State
	queue       queue
	current     *QueueItem
	conn        VoiceConn
	channelID   string // channel the session joined, kept apart from conn
	sink        *Sink
	worker      DecodeWorker
	cancelTrack context.CancelFunc
	volume      float64
	follow      string
	autoPaused  bool
	closed      bool
	epoch       uint64
	token       uint64
	teardown    *time.Timer

	lastRequester   string
	lastTextChannel string
}

func newSession(guildID string, conn VoiceConn, deps *sessionDeps, volume float64, grace time.Duration) *Session {
	s := &Session{
		guildID: guildID,
		deps:    deps,
		grace:   grace,
		state:   StateEmpty,
		conn:    conn,
		volume:  volume,
	}
	if conn != nil {
		s.channelID = conn.ChannelID()
	}
	return s
}

func (s *Session) GuildID() string { return s.guildID }

// Enqueue appends item and, on an idle session, starts playing it. It
// returns the 1-based queue position, or 0 when the item went straight to
// loading.
func (s *Session) Enqueue(item *QueueItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	s.epoch++
	s.stopTeardownLocked()
	s.lastRequester = item.RequesterID
	s.lastTextChannel = item.TextChannelID

	s.queue.push(item)
	if s.state == StateEmpty {
		s.advanceLocked()
		return 0, nil
	}
	s.publishLocked(Event{Kind: QueueChanged, Item: item.snapshot()})
	return s.queue.len(), nil
}

// advanceLocked moves the head of the queue into current, or goes idle.
func (s *Session) advanceLocked() {
	it := s.queue.pop()
	if it == nil {
		s.enterEmptyLocked()
		return
	}
	s.current = it
	s.state = StateLoading
	s.token++
	tok := s.token
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTrack = cancel

	if it.Metadata != nil {
		s.startWorkerLocked(ctx, tok, *it.Metadata)
		return
	}
	go s.resolve(ctx, tok, it)
}

func (s *Session) resolve(ctx context.Context, tok uint64, it *QueueItem) {
	meta, err := s.deps.resolver.Resolve(ctx, it.Request)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || tok != s.token {
		return
	}
	if err != nil {
		s.finishLocked(err, false)
		return
	}
	it.Metadata = &meta
	s.startWorkerLocked(ctx, tok, meta)
}

func (s *Session) startWorkerLocked(ctx context.Context, tok uint64, meta TrackMetadata) {
	w := s.deps.workers.Start(ctx, meta)
	s.worker = w
	if s.sink == nil {
		s.sink = NewSink(s.deps.newEncoder, s.volume, s.onSinkEvent)
		s.sink.Bind(s.conn)
	}
	s.sink.Feed(tok, w.Events())
	s.state = StatePlaying
	s.autoPaused = false

	snap := s.current.snapshot()
	s.publishLocked(Event{Kind: TrackStarted, Item: snap})
	if s.deps.started != nil {
		s.deps.started(s.guildID, snap)
	}

	// listeners may have left while the item was loading
	if s.aloneLocked() && s.sink.Pause() {
		s.state = StatePaused
		s.autoPaused = true
		slog.Info("paused, channel is empty", "guildID", s.guildID, "channelID", s.channelID)
		s.publishLocked(Event{Kind: SessionAbandoned, Requester: s.lastRequester, ChannelID: s.lastTextChannel})
	}
}

func (s *Session) onSinkEvent(ev SinkEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ev.Token != s.token || s.current == nil {
		return
	}
	switch ev.Kind {
	case SinkMetadata:
		if ev.Metadata == nil {
			return
		}
		if ev.Metadata.Duration <= 0 {
			s.finishLocked(&ResolutionError{Request: s.current.Request, Reason: "live streams unsupported"}, false)
			return
		}
		m := *ev.Metadata
		s.current.Metadata = &m
		s.publishLocked(Event{Kind: TrackUpdated, Item: s.current.snapshot()})
	case SinkTrackEnded:
		s.finishLocked(nil, false)
	case SinkDecodeFailed, SinkFailed:
		s.finishLocked(ev.Err, false)
	}
}

// finishLocked ends the current item, reports it and advances the queue.
func (s *Session) finishLocked(cause error, skipped bool) {
	ended := s.current.snapshot()
	s.releaseTrackLocked()
	s.current = nil

	if cause != nil {
		slog.Warn("track failed", "guildID", s.guildID, "request", ended.Request, "err", cause)
		s.publishLocked(Event{Kind: TrackFailed, Item: ended, Err: cause})
	} else {
		s.publishLocked(Event{Kind: TrackEnded, Item: ended, Skipped: skipped})
	}
	s.advanceLocked()
}

// releaseTrackLocked stops everything tied to the current item.
func (s *Session) releaseTrackLocked() {
	s.token++
	if s.cancelTrack != nil {
		s.cancelTrack()
		s.cancelTrack = nil
	}
	if s.worker != nil {
		s.worker.Kill()
		s.worker = nil
	}
	if s.sink != nil {
		s.sink.Stop()
	}
}

func (s *Session) enterEmptyLocked() {
	s.state = StateEmpty
	s.current = nil
	s.autoPaused = false
	s.scheduleTeardownLocked()
}

func (s *Session) scheduleTeardownLocked() {
	s.stopTeardownLocked()
	ep := s.epoch
	s.teardown = time.AfterFunc(s.grace, func() { s.teardownIfIdle(ep) })
}

func (s *Session) stopTeardownLocked() {
	if s.teardown != nil {
		s.teardown.Stop()
		s.teardown = nil
	}
}

// teardownIfIdle destroys the session if nothing was enqueued since the
// timer for epoch ep was armed.
func (s *Session) teardownIfIdle(ep uint64) {
	s.mu.Lock()
	if s.closed || ep != s.epoch || s.state != StateEmpty || s.queue.len() > 0 {
		s.mu.Unlock()
		return
	}
	slog.Debug("grace period elapsed, tearing down", "guildID", s.guildID)
	s.destroyLocked(nil)
	s.mu.Unlock()
}

// destroyLocked closes the session. The voice connection is released before
// the registry entry is removed; a new session for the guild may reuse it.
func (s *Session) destroyLocked(reason error) {
	s.closed = true
	s.epoch++
	s.stopTeardownLocked()
	s.releaseTrackLocked()
	s.current = nil
	s.queue.clear()
	s.state = StateEmpty
	s.sink = nil
	release(s.guildID, s.conn)
	s.conn = nil
	s.deps.registry.removeIf(s.guildID, s)
	s.publishLocked(Event{Kind: SessionDestroyed, Err: reason})
}

func release(guildID string, conn VoiceConn) {
	if conn == nil {
		return
	}
	_ = conn.Speaking(false)
	if err := conn.Disconnect(); err != nil {
		slog.Warn("voice disconnect failed", "guildID", guildID, "err", err)
	}
}

func (s *Session) publishLocked(ev Event) {
	ev.GuildID = s.guildID
	ev.QueueLen = s.queue.len()
	if ev.ChannelID == "" && ev.Item != nil {
		ev.ChannelID = ev.Item.TextChannelID
	}
	if ev.ChannelID == "" {
		ev.ChannelID = s.lastTextChannel
	}
	s.deps.bus.Publish(ev)
}

func (s *Session) aloneLocked() bool {
	if s.deps.occupancy == nil || s.conn == nil {
		return false
	}
	return s.deps.occupancy.ListenerCount(s.guildID, s.channelID) == 0
}

// Pause reports false when already paused. ErrNothingPlaying is returned
// when there is no current item.
func (s *Session) Pause() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.sink == nil || s.state == StateLoading {
		return false, ErrNothingPlaying
	}
	if s.state != StatePlaying || !s.sink.Pause() {
		return false, nil
	}
	s.state = StatePaused
	s.autoPaused = false
	return true, nil
}

// Resume reports false when already playing, and refuses with
// ErrAloneInChannel while nobody else is listening.
func (s *Session) Resume() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.sink == nil || s.state == StateLoading {
		return false, ErrNothingPlaying
	}
	if s.state != StatePaused {
		return false, nil
	}
	if s.aloneLocked() {
		return false, ErrAloneInChannel
	}
	if !s.sink.Resume() {
		return false, nil
	}
	s.state = StatePlaying
	s.autoPaused = false
	return true, nil
}

// AutoPause pauses because the channel emptied out. It is a no-op unless
// the session is playing.
func (s *Session) AutoPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying || s.sink == nil || !s.sink.Pause() {
		return false
	}
	s.state = StatePaused
	s.autoPaused = true
	return true
}

// ResumeIfAutoPaused undoes AutoPause once somebody is listening again.
func (s *Session) ResumeIfAutoPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.autoPaused || s.state != StatePaused || s.aloneLocked() {
		return false
	}
	if !s.sink.Resume() {
		return false
	}
	s.state = StatePlaying
	s.autoPaused = false
	return true
}

// Skip drops the current item immediately and moves on.
func (s *Session) Skip() (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current == nil {
		return nil, ErrNothingPlaying
	}
	skipped := s.current.snapshot()
	s.finishLocked(nil, true)
	return skipped, nil
}

// Leave stops playback, clears the queue and releases the voice connection.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.destroyLocked(nil)
	}
}

// ConnectionLost discards the session after the bot was removed from voice.
func (s *Session) ConnectionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	slog.Warn("voice connection lost", "guildID", s.guildID)
	s.destroyLocked(&ConnectionLost{GuildID: s.guildID})
}

// Relocate points the session at a connection in another channel; the
// current stream continues on it.
func (s *Session) Relocate(conn VoiceConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.conn = conn
	s.channelID = conn.ChannelID()
	if s.sink != nil {
		return s.sink.Rebind(conn)
	}
	return nil
}

func (s *Session) RemoveAt(index int) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	it, err := s.queue.removeAt(index)
	if err != nil {
		return nil, err
	}
	snap := it.snapshot()
	s.publishLocked(Event{Kind: QueueChanged, Item: snap})
	return snap, nil
}

func (s *Session) Queue() QueueSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.summary()
}

func (s *Session) NowPlaying() NowPlaying {
	s.mu.Lock()
	defer s.mu.Unlock()
	np := NowPlaying{Item: s.current.snapshot(), State: s.state, Follow: s.follow, Volume: s.volume}
	if s.sink != nil {
		np.Elapsed = s.sink.Elapsed()
		np.Volume = s.sink.Volume()
	}
	return np
}

// Volume is only defined while the session has a sink.
func (s *Session) Volume() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return 0, false
	}
	return s.sink.Volume(), true
}

func (s *Session) SetVolume(v float64) error {
	if math.IsNaN(v) || v <= 0 || v > 2 {
		return ErrInvalidVolume
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return ErrNothingPlaying
	}
	s.volume = v
	s.sink.SetVolume(v)
	return nil
}

func (s *Session) FollowTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follow
}

func (s *Session) SetFollowTarget(userID string) {
	s.mu.Lock()
	s.follow = userID
	s.mu.Unlock()
}

// ChannelID is the channel the session last joined. The gateway may report
// a move on the connection before the session has relocated.
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.channelID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// lastRequest is who to notify when the session is abandoned.
func (s *Session) lastRequest() (userID, textChannelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequester, s.lastTextChannel
}
