package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/sonroyaalmerol/kumacast/internal/utils"
)

const (
	SampleRate = 48000
	Channels   = 2
	// FrameSamples is 20 ms of audio per channel at SampleRate.
	FrameSamples = 960
	// FrameBytes is one 20 ms interleaved s16le stereo frame.
	FrameBytes = FrameSamples * Channels * 2
)

// PCMDecoder opens an input with FFmpeg and produces interleaved s16le
// stereo 48 kHz PCM.
type PCMDecoder struct {
	fc       *astiav.FormatContext
	stream   *astiav.Stream
	dec      *astiav.CodecContext
	swr      *astiav.SoftwareResampleContext
	srcFrame *astiav.Frame
	dstFrame *astiav.Frame
	packet   *astiav.Packet
}

// OpenPCM opens input (a local path or a network URL) and prepares the
// decoder for its best audio stream.
func OpenPCM(input string) (*PCMDecoder, error) {
	d := &PCMDecoder{}
	if err := d.open(input); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *PCMDecoder) open(input string) error {
	d.fc = astiav.AllocFormatContext()
	if d.fc == nil {
		return errors.New("alloc format context")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("reconnect", "1", astiav.NewDictionaryFlags())
	_ = opts.Set("reconnect_streamed", "1", astiav.NewDictionaryFlags())
	_ = opts.Set("reconnect_delay_max", "5", astiav.NewDictionaryFlags())
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		_ = opts.Set("headers", utils.StreamHeaders(nil), astiav.NewDictionaryFlags())
	}

	if err := d.fc.OpenInput(input, nil, opts); err != nil {
		d.fc.Free()
		d.fc = nil
		return fmt.Errorf("open input: %w", err)
	}
	if err := d.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("find stream info: %w", err)
	}

	for _, st := range d.fc.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			d.stream = st
			break
		}
	}
	if d.stream == nil {
		return errors.New("no audio stream found")
	}

	codec := astiav.FindDecoder(d.stream.CodecParameters().CodecID())
	if codec == nil {
		return errors.New("no decoder for audio stream")
	}
	if d.dec = astiav.AllocCodecContext(codec); d.dec == nil {
		return errors.New("alloc codec context")
	}
	if err := d.stream.CodecParameters().ToCodecContext(d.dec); err != nil {
		return fmt.Errorf("codec from params: %w", err)
	}
	d.dec.SetTimeBase(d.stream.TimeBase())
	if err := d.dec.Open(codec, nil); err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}

	if d.swr = astiav.AllocSoftwareResampleContext(); d.swr == nil {
		return errors.New("alloc swr")
	}
	d.srcFrame = astiav.AllocFrame()
	d.dstFrame = astiav.AllocFrame()
	d.packet = astiav.AllocPacket()
	return nil
}

// Duration is the container duration, zero when unknown (live inputs).
func (d *PCMDecoder) Duration() time.Duration {
	us := d.fc.Duration()
	if us <= 0 {
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

// Tag returns a container metadata value such as "title" or "artist".
func (d *PCMDecoder) Tag(key string) string {
	md := d.fc.Metadata()
	if md == nil {
		return ""
	}
	if e := md.Get(key, nil, astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix)); e != nil {
		return e.Value()
	}
	return ""
}

// Decode reads the input to the end, calling onPCM with converted samples.
// The slice passed to onPCM is only valid for the duration of the call.
func (d *PCMDecoder) Decode(ctx context.Context, onPCM func([]byte) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.packet.Unref()
		if err := d.fc.ReadFrame(d.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if d.packet.StreamIndex() != d.stream.Index() {
			continue
		}
		if err := d.dec.SendPacket(d.packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("send packet: %w", err)
		}
		if err := d.drain(onPCM); err != nil {
			return err
		}
	}

	// flush decoder, then resampler
	if err := d.dec.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("flush decoder: %w", err)
	}
	if err := d.drain(onPCM); err != nil {
		return err
	}
	return d.convert(nil, onPCM)
}

func (d *PCMDecoder) drain(onPCM func([]byte) error) error {
	for {
		d.srcFrame.Unref()
		if err := d.dec.ReceiveFrame(d.srcFrame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := d.convert(d.srcFrame, onPCM); err != nil {
			return err
		}
	}
}

func (d *PCMDecoder) convert(src *astiav.Frame, onPCM func([]byte) error) error {
	d.dstFrame.Unref()
	d.dstFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	d.dstFrame.SetSampleRate(SampleRate)
	d.dstFrame.SetSampleFormat(astiav.SampleFormatS16)
	nb := FrameSamples
	if src != nil {
		// upper bound for the resampled size of this frame
		nb = src.NbSamples()*SampleRate/max(src.SampleRate(), 1) + 256
	}
	d.dstFrame.SetNbSamples(nb)
	if err := d.dstFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("dst alloc buffer: %w", err)
	}
	if err := d.swr.ConvertFrame(src, d.dstFrame); err != nil {
		return fmt.Errorf("swr convert: %w", err)
	}
	if d.dstFrame.NbSamples() == 0 {
		return nil
	}
	b, err := d.dstFrame.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("dst bytes: %w", err)
	}
	return onPCM(b)
}

func (d *PCMDecoder) Close() {
	if d.packet != nil {
		d.packet.Free()
	}
	if d.srcFrame != nil {
		d.srcFrame.Free()
	}
	if d.dstFrame != nil {
		d.dstFrame.Free()
	}
	if d.swr != nil {
		d.swr.Free()
	}
	if d.dec != nil {
		d.dec.Free()
	}
	if d.fc != nil {
		d.fc.CloseInput()
		d.fc.Free()
	}
}
