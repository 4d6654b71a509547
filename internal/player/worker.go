package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/stream"
)

type WorkerEventKind int

const (
	EventChunk WorkerEventKind = iota
	EventMetadata
	EventDone
	EventError
)

// WorkerEvent is one message from a decode worker. Chunks carry interleaved
// s16le stereo 48 kHz PCM and are owned by the receiver.
type WorkerEvent struct {
	Kind     WorkerEventKind
	PCM      []byte
	Metadata *TrackMetadata
	Err      error
}

// DecodeWorker delivers, in order, zero or more chunks, at most one
// metadata event and exactly one terminal Done or Error event, then closes
// its channel. Kill may be called any number of times, from any goroutine.
type DecodeWorker interface {
	Events() <-chan WorkerEvent
	Kill()
}

type WorkerFactory interface {
	Start(ctx context.Context, meta TrackMetadata) DecodeWorker
}

// taskWorker runs a decode function in its own goroutine and turns its
// output into WorkerEvents.
type taskWorker struct {
	events chan WorkerEvent
	cancel context.CancelFunc
	once   sync.Once
}

type emitFunc func(WorkerEvent) bool

func startTask(parent context.Context, fn func(ctx context.Context, emit emitFunc) error) *taskWorker {
	ctx, cancel := context.WithCancel(parent)
	w := &taskWorker{events: make(chan WorkerEvent, 16), cancel: cancel}

	emit := func(ev WorkerEvent) bool {
		select {
		case w.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(w.events)
		defer cancel()
		err := fn(ctx, emit)
		if ctx.Err() != nil {
			// killed; best effort terminal event for a reader that is still there
			select {
			case w.events <- WorkerEvent{Kind: EventError, Err: ctx.Err()}:
			default:
			}
			return
		}
		if err != nil {
			emit(WorkerEvent{Kind: EventError, Err: err})
			return
		}
		emit(WorkerEvent{Kind: EventDone})
	}()
	return w
}

func (w *taskWorker) Events() <-chan WorkerEvent { return w.events }

func (w *taskWorker) Kill() { w.once.Do(w.cancel) }

// pcmSource is the subset of stream.PCMDecoder the worker needs.
type pcmSource interface {
	Duration() time.Duration
	Tag(key string) string
	Decode(ctx context.Context, onPCM func([]byte) error) error
	Close()
}

// PCMCache stores decoded clip audio keyed by clip path.
type PCMCache interface {
	Open(ctx context.Context, key string) (io.ReadCloser, bool)
	Put(ctx context.Context, key string, src io.Reader) error
}

// PCMWorkerFactory decodes tracks with FFmpeg. Clip PCM is cached after the
// first full decode and replayed from the cache afterwards.
type PCMWorkerFactory struct {
	cache PCMCache
	open  func(input string) (pcmSource, error)
}

func NewPCMWorkerFactory(cache PCMCache) *PCMWorkerFactory {
	return &PCMWorkerFactory{
		cache: cache,
		open: func(input string) (pcmSource, error) {
			d, err := stream.OpenPCM(input)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

func (f *PCMWorkerFactory) Start(ctx context.Context, meta TrackMetadata) DecodeWorker {
	return startTask(ctx, func(ctx context.Context, emit emitFunc) error {
		if meta.Source == SourceClip && f.cache != nil {
			if rc, ok := f.cache.Open(ctx, meta.Locator); ok {
				defer rc.Close()
				return replayPCM(ctx, rc, emit)
			}
		}
		return f.decode(ctx, meta, emit)
	})
}

func (f *PCMWorkerFactory) decode(ctx context.Context, meta TrackMetadata, emit emitFunc) error {
	src, err := f.open(meta.Locator)
	if err != nil {
		slog.Warn("open stream failed", "title", meta.Title, "err", err)
		return &DecodeError{Title: meta.Title, Cause: err}
	}
	defer src.Close()

	if meta.Deferred {
		final := meta
		final.Deferred = false
		final.Duration = src.Duration()
		if t := src.Tag("title"); t != "" {
			final.Title = t
		}
		if a := src.Tag("artist"); a != "" {
			final.Uploader = a
		}
		if !emit(WorkerEvent{Kind: EventMetadata, Metadata: &final}) {
			return ctx.Err()
		}
	}

	var keep *bytes.Buffer
	if meta.Source == SourceClip && f.cache != nil {
		keep = &bytes.Buffer{}
	}

	err = src.Decode(ctx, func(pcm []byte) error {
		chunk := bytes.Clone(pcm)
		if keep != nil {
			keep.Write(chunk)
		}
		if !emit(WorkerEvent{Kind: EventChunk, PCM: chunk}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("decode failed", "title", meta.Title, "err", err)
		return &DecodeError{Title: meta.Title, Cause: err}
	}

	if keep != nil {
		if err := f.cache.Put(ctx, meta.Locator, keep); err != nil {
			slog.Warn("caching clip failed", "clip", meta.Locator, "err", err)
		}
	}
	return nil
}

// replayPCM streams cached PCM in frame sized chunks.
func replayPCM(ctx context.Context, r io.Reader, emit emitFunc) error {
	for {
		buf := make([]byte, stream.FrameBytes*8)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if !emit(WorkerEvent{Kind: EventChunk, PCM: buf[:n]}) {
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return &DecodeError{Title: "cached clip", Cause: err}
		}
	}
}
