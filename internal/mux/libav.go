package mux

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/deckgrab/deckgrab/internal/capture"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// ErrUnknownFormat is returned when neither the format override nor the
// output path resolves to a container format. Configuration error.
var ErrUnknownFormat = errors.New("unable to guess output format, specify one explicitly")

// LibAV writes packets through libavformat. Raw video maps to rawvideo
// (UYVY) or v210 depending on the configured pixel depth, audio to
// pcm_s16le or pcm_s32le.
type LibAV struct {
	fc             *astiav.FormatContext
	pb             *astiav.IOContext
	headerWritten  bool
	trailerWritten bool
	closed         bool
}

// Open allocates the output context for path. formatOverride names the
// container explicitly ("nut", "matroska", ...); when empty the format is
// guessed from the path.
func Open(path, formatOverride string) (*LibAV, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, formatOverride, path)
	if err != nil || fc == nil {
		if formatOverride != "" {
			return nil, fmt.Errorf("unknown output format %q: %w", formatOverride, ErrUnknownFormat)
		}
		return nil, ErrUnknownFormat
	}

	m := &LibAV{fc: fc}

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			fc.Free()
			return nil, fmt.Errorf("opening %q: %w", path, err)
		}
		fc.SetPb(pb)
		m.pb = pb
	}

	return m, nil
}

// AddVideoStream declares the raw video stream and returns its index.
func (m *LibAV) AddVideoStream(cfg capture.StreamConfig) (int, error) {
	st := m.fc.NewStream(nil)
	if st == nil {
		return 0, errors.New("could not allocate video stream")
	}

	cp := st.CodecParameters()
	cp.SetMediaType(astiav.MediaTypeVideo)
	cp.SetWidth(cfg.Width)
	cp.SetHeight(cfg.Height)
	if cfg.PixelFormat == capture.PixelFormatV210 {
		cp.SetCodecID(astiav.CodecIDV210)
		cp.SetBitsPerRawSample(10)
	} else {
		cp.SetCodecID(astiav.CodecIDRawvideo)
		cp.SetPixelFormat(astiav.PixelFormatUyvy422)
	}

	st.SetTimeBase(astiav.NewRational(int(cfg.TimeBaseNum), int(cfg.TimeBaseDen)))
	return st.Index(), nil
}

// AddAudioStream declares the PCM audio stream and returns its index.
func (m *LibAV) AddAudioStream(cfg capture.StreamConfig) (int, error) {
	st := m.fc.NewStream(nil)
	if st == nil {
		return 0, errors.New("could not allocate audio stream")
	}

	cp := st.CodecParameters()
	cp.SetMediaType(astiav.MediaTypeAudio)
	cp.SetSampleRate(capture.SampleRate)

	layout, err := channelLayout(cfg.Channels)
	if err != nil {
		return 0, err
	}
	cp.SetChannelLayout(layout)

	switch cfg.SampleDepth {
	case 16:
		cp.SetCodecID(astiav.CodecIDPcmS16Le)
	case 32:
		cp.SetCodecID(astiav.CodecIDPcmS32Le)
	default:
		return 0, fmt.Errorf("unsupported sample depth %d", cfg.SampleDepth)
	}

	st.SetTimeBase(astiav.NewRational(1, capture.SampleRate))
	return st.Index(), nil
}

// WriteHeader writes the container header.
func (m *LibAV) WriteHeader() error {
	if err := m.fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}
	m.headerWritten = true
	return nil
}

// WritePacket forwards one media packet to the interleaving writer.
func (m *LibAV) WritePacket(p *packet.MediaPacket) error {
	pkt := astiav.AllocPacket()
	defer pkt.Free()

	if err := pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("wrapping packet payload: %w", err)
	}
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetDuration(p.Duration)
	pkt.SetStreamIndex(p.StreamIndex)
	if p.Keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}

	if err := m.fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// WriteTrailer finalizes the container. Safe to call once; a second call is
// a no-op so teardown paths cannot double-finalize.
func (m *LibAV) WriteTrailer() error {
	if m.trailerWritten || !m.headerWritten {
		return nil
	}
	m.trailerWritten = true
	if err := m.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("writing container trailer: %w", err)
	}
	return nil
}

// Close releases the output context and the underlying file. Idempotent.
func (m *LibAV) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.pb != nil {
		err = m.pb.Close()
		m.pb = nil
	}
	m.fc.Free()
	return err
}

// channelLayout maps the supported channel counts to libav layouts.
func channelLayout(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 2:
		return astiav.ChannelLayoutStereo, nil
	case 8:
		return astiav.ChannelLayout7Point1, nil
	case 16:
		return astiav.ChannelLayoutHexadecagonal, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
	}
}
