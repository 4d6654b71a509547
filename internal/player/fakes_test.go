package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/stream"
)

const testTimeout = 2 * time.Second

type fakeResolver struct {
	mu    sync.Mutex
	gate  chan struct{}
	errs  map[string]error
	calls []string
}

func (r *fakeResolver) Resolve(ctx context.Context, request string) (TrackMetadata, error) {
	r.mu.Lock()
	r.calls = append(r.calls, request)
	gate := r.gate
	err := r.errs[request]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return TrackMetadata{}, ctx.Err()
		}
	}
	if err != nil {
		return TrackMetadata{}, err
	}
	return TrackMetadata{
		Title:    strings.ToUpper(request),
		Duration: time.Minute,
		Locator:  "loc:" + request,
	}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeWorker struct {
	meta   TrackMetadata
	events chan WorkerEvent
	killed atomic.Bool
}

func (w *fakeWorker) Events() <-chan WorkerEvent { return w.events }

func (w *fakeWorker) Kill() { w.killed.Store(true) }

func (w *fakeWorker) chunk() { w.events <- WorkerEvent{Kind: EventChunk, PCM: make([]byte, stream.FrameBytes)} }

func (w *fakeWorker) done() { w.events <- WorkerEvent{Kind: EventDone} }

func (w *fakeWorker) fail(err error) { w.events <- WorkerEvent{Kind: EventError, Err: err} }

type fakeWorkerFactory struct {
	started chan *fakeWorker
}

func newFakeWorkerFactory() *fakeWorkerFactory {
	return &fakeWorkerFactory{started: make(chan *fakeWorker, 32)}
}

func (f *fakeWorkerFactory) Start(_ context.Context, meta TrackMetadata) DecodeWorker {
	w := &fakeWorker{meta: meta, events: make(chan WorkerEvent, 64)}
	f.started <- w
	return w
}

func (f *fakeWorkerFactory) next(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-f.started:
		return w
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a worker to start")
		return nil
	}
}

func (f *fakeWorkerFactory) expectNone(t *testing.T) {
	t.Helper()
	select {
	case w := <-f.started:
		t.Fatalf("unexpected worker for %q", w.meta.Title)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeFrame(pcm []byte, onPacket stream.OpusPacketHandler) error {
	return onPacket(pcm[:4])
}

func (fakeEncoder) Flush(stream.OpusPacketHandler) error { return nil }

func (fakeEncoder) Close() {}

func fakeEncoderFactory() (FrameEncoder, error) { return fakeEncoder{}, nil }

type fakeConn struct {
	channel      string
	sent         atomic.Int64
	disconnected atomic.Bool
	sendErr      error
	onDisconnect func()
}

func (c *fakeConn) ChannelID() string { return c.channel }

func (c *fakeConn) SendOpus(_ context.Context, _ []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent.Add(1)
	return nil
}

func (c *fakeConn) Speaking(bool) error { return nil }

func (c *fakeConn) Disconnect() error {
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
	c.disconnected.Store(true)
	return nil
}

type fakeJoiner struct {
	mu           sync.Mutex
	err          error
	conns        []*fakeConn
	onDisconnect func()
}

func (j *fakeJoiner) Join(_ context.Context, _, channelID string) (VoiceConn, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	c := &fakeConn{channel: channelID, onDisconnect: j.onDisconnect}
	j.conns = append(j.conns, c)
	return c, nil
}

func (j *fakeJoiner) joined() []*fakeConn {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*fakeConn(nil), j.conns...)
}

type fakeOccupancy struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeOccupancy() *fakeOccupancy {
	return &fakeOccupancy{counts: map[string]int{}}
}

func (o *fakeOccupancy) set(channelID string, n int) {
	o.mu.Lock()
	o.counts[channelID] = n
	o.mu.Unlock()
}

func (o *fakeOccupancy) ListenerCount(_, channelID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.counts[channelID]
	if !ok {
		return 1
	}
	return n
}

type fakeLocator struct {
	mu       sync.Mutex
	channels map[string]string
}

func (l *fakeLocator) set(userID, channelID string) {
	l.mu.Lock()
	l.channels[userID] = channelID
	l.mu.Unlock()
}

func (l *fakeLocator) UserChannel(_, userID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[userID]
	return ch, ok
}

type harness struct {
	engine    *Engine
	resolver  *fakeResolver
	workers   *fakeWorkerFactory
	joiner    *fakeJoiner
	occupancy *fakeOccupancy
	locator   *fakeLocator
	bus       *EventBus
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	h := &harness{
		resolver:  &fakeResolver{errs: map[string]error{}},
		workers:   newFakeWorkerFactory(),
		joiner:    &fakeJoiner{},
		occupancy: newFakeOccupancy(),
		locator:   &fakeLocator{channels: map[string]string{}},
		bus:       NewEventBus(256),
	}
	h.engine = NewEngine(EngineOptions{
		Resolver:  h.resolver,
		Workers:   h.workers,
		Joiner:    h.joiner,
		Occupancy: h.occupancy,
		Locator:   h.locator,
		Encoder:   fakeEncoderFactory,
		Bus:       h.bus,
		Grace:     grace,
	})
	t.Cleanup(h.engine.Shutdown)
	return h
}

func (h *harness) play(t *testing.T, guild, query string) PlayResult {
	t.Helper()
	res, err := h.engine.Play(context.Background(), PlayRequest{
		GuildID:        guild,
		UserID:         "user-" + query,
		VoiceChannelID: "voice",
		TextChannelID:  "text",
		Query:          query,
	})
	if err != nil {
		t.Fatalf("Play(%q): %v", query, err)
	}
	return res
}

func waitEvent(t *testing.T, bus *EventBus, kind EventKind) Event {
	t.Helper()
	return waitItemEvent(t, bus, kind, "")
}

// waitItemEvent skips events until one of kind arrives, optionally for the
// item with the given request text.
func waitItemEvent(t *testing.T, bus *EventBus, kind EventKind, request string) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind != kind {
				continue
			}
			if request == "" || (ev.Item != nil && ev.Item.Request == request) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return Event{}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func queueRequests(s *Session) []string {
	var out []string
	for _, it := range s.Queue().Items() {
		out = append(out, it.Request)
	}
	return out
}

var errBoom = errors.New("boom")
