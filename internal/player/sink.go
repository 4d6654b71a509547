package player

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/stream"
)

// gainExponent maps the linear volume knob onto a perceptual curve.
const gainExponent = 1.660964

const defaultSendTimeout = 5 * time.Second

type SinkEventKind int

const (
	SinkTrackEnded SinkEventKind = iota
	SinkDecodeFailed
	SinkFailed
	SinkMetadata
)

type SinkEvent struct {
	Kind     SinkEventKind
	Token    uint64
	Err      error
	Metadata *TrackMetadata
}

type FrameEncoder interface {
	EncodeFrame(pcm []byte, onPacket stream.OpusPacketHandler) error
	Flush(onPacket stream.OpusPacketHandler) error
	Close()
}

type EncoderFactory func() (FrameEncoder, error)

func OpusEncoderFactory() (FrameEncoder, error) {
	enc, err := stream.NewOpusEncoder()
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// Sink plays one worker event stream at a time into a voice connection.
// The connection can be swapped with Rebind without interrupting the stream.
type Sink struct {
	newEncoder  EncoderFactory
	listener    func(SinkEvent)
	sendTimeout time.Duration

	mu      sync.Mutex
	conn    VoiceConn
	volume  float64
	paused  bool
	resume  chan struct{} // closed when unpaused
	feed    *sinkFeed
	elapsed time.Duration
}

type sinkFeed struct {
	token uint64
	stop  chan struct{}
	once  sync.Once
}

func (f *sinkFeed) halt() { f.once.Do(func() { close(f.stop) }) }

func NewSink(newEncoder EncoderFactory, volume float64, listener func(SinkEvent)) *Sink {
	return &Sink{
		newEncoder:  newEncoder,
		listener:    listener,
		sendTimeout: defaultSendTimeout,
		volume:      volume,
	}
}

func (s *Sink) Bind(conn VoiceConn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Rebind moves output to conn. The current stream keeps playing from where
// it was.
func (s *Sink) Rebind(conn VoiceConn) error {
	if conn == nil {
		return ErrNotConnected
	}
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	active := s.feed != nil && !s.paused
	s.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Speaking(false)
	}
	if active {
		return conn.Speaking(true)
	}
	return nil
}

// Feed starts playing events under token, replacing any current stream.
func (s *Sink) Feed(token uint64, events <-chan WorkerEvent) {
	f := &sinkFeed{token: token, stop: make(chan struct{})}
	s.mu.Lock()
	if s.feed != nil {
		s.feed.halt()
	}
	s.feed = f
	s.paused = false
	s.resume = nil
	s.elapsed = 0
	s.mu.Unlock()

	go s.run(f, events)
}

// Stop halts the current stream without waiting for it to wind down and
// without raising an event.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed != nil {
		s.feed.halt()
		s.feed = nil
	}
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
	s.paused = false
}

func (s *Sink) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil || s.paused {
		return false
	}
	s.paused = true
	s.resume = make(chan struct{})
	if s.conn != nil {
		_ = s.conn.Speaking(false)
	}
	return true
}

func (s *Sink) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil || !s.paused {
		return false
	}
	s.paused = false
	close(s.resume)
	s.resume = nil
	if s.conn != nil {
		_ = s.conn.Speaking(true)
	}
	return true
}

func (s *Sink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Sink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *Sink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Elapsed is the playback position of the current stream.
func (s *Sink) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func (s *Sink) current(f *sinkFeed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed == f
}

func (s *Sink) emit(f *sinkFeed, ev SinkEvent) {
	if !s.current(f) {
		return
	}
	ev.Token = f.token
	s.listener(ev)
}

func (s *Sink) run(f *sinkFeed, events <-chan WorkerEvent) {
	enc, err := s.newEncoder()
	if err != nil {
		slog.Error("create encoder failed", "err", err)
		s.emit(f, SinkEvent{Kind: SinkFailed, Err: &SinkError{Cause: err}})
		return
	}
	defer enc.Close()

	if conn := s.connection(); conn != nil {
		_ = conn.Speaking(true)
	}

	pending := make([]byte, 0, stream.FrameBytes*2)
	for {
		select {
		case <-f.stop:
			return
		case ev, ok := <-events:
			if !ok {
				// worker went away without a terminal event
				s.emit(f, SinkEvent{Kind: SinkDecodeFailed, Err: &DecodeError{Title: "stream", Cause: errors.New("worker exited")}})
				return
			}
			switch ev.Kind {
			case EventChunk:
				pending = append(pending, ev.PCM...)
				n := 0
				for len(pending)-n >= stream.FrameBytes {
					if err := s.sendFrame(f, enc, pending[n:n+stream.FrameBytes]); err != nil {
						s.fail(f, err)
						return
					}
					n += stream.FrameBytes
				}
				pending = append(pending[:0], pending[n:]...)
			case EventMetadata:
				s.emit(f, SinkEvent{Kind: SinkMetadata, Metadata: ev.Metadata})
			case EventDone:
				if len(pending) > 0 {
					frame := make([]byte, stream.FrameBytes)
					copy(frame, pending)
					if err := s.sendFrame(f, enc, frame); err != nil {
						s.fail(f, err)
						return
					}
				}
				if err := enc.Flush(s.sender(f)); err != nil && !errors.Is(err, errFeedStopped) {
					slog.Debug("encoder flush failed", "err", err)
				}
				if conn := s.connection(); conn != nil {
					_ = conn.Speaking(false)
				}
				s.emit(f, SinkEvent{Kind: SinkTrackEnded})
				return
			case EventError:
				err := ev.Err
				var de *DecodeError
				if !errors.As(err, &de) {
					err = &DecodeError{Title: "stream", Cause: err}
				}
				s.emit(f, SinkEvent{Kind: SinkDecodeFailed, Err: err})
				return
			}
		}
	}
}

var errFeedStopped = errors.New("feed stopped")

func (s *Sink) fail(f *sinkFeed, err error) {
	if errors.Is(err, errFeedStopped) {
		return
	}
	slog.Warn("voice send failed", "err", err)
	s.emit(f, SinkEvent{Kind: SinkFailed, Err: &SinkError{Cause: err}})
}

func (s *Sink) connection() VoiceConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// waitUnpaused blocks while the sink is paused. It reports false once the
// feed has been stopped.
func (s *Sink) waitUnpaused(f *sinkFeed) bool {
	for {
		s.mu.Lock()
		if s.feed != f {
			s.mu.Unlock()
			return false
		}
		if !s.paused {
			s.mu.Unlock()
			return true
		}
		ch := s.resume
		s.mu.Unlock()

		select {
		case <-ch:
		case <-f.stop:
			return false
		}
	}
}

func (s *Sink) sendFrame(f *sinkFeed, enc FrameEncoder, frame []byte) error {
	if !s.waitUnpaused(f) {
		return errFeedStopped
	}
	applyGain(frame, s.Volume())
	if err := enc.EncodeFrame(frame, s.sender(f)); err != nil {
		return err
	}
	s.mu.Lock()
	if s.feed == f {
		s.elapsed += 20 * time.Millisecond
	}
	s.mu.Unlock()
	return nil
}

func (s *Sink) sender(f *sinkFeed) stream.OpusPacketHandler {
	return func(pkt []byte) error {
		select {
		case <-f.stop:
			return errFeedStopped
		default:
		}
		conn := s.connection()
		if conn == nil {
			return ErrNotConnected
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		return conn.SendOpus(ctx, pkt)
	}
}

// Gain converts a volume knob value into a linear amplitude factor.
func Gain(volume float64) float64 {
	return math.Pow(volume, gainExponent)
}

// applyGain scales s16le samples in place, clipping at the int16 range.
func applyGain(pcm []byte, volume float64) {
	g := Gain(volume)
	if math.Abs(g-1) < 1e-9 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * g
		v = max(math.MinInt16, min(math.MaxInt16, math.Round(v)))
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}
