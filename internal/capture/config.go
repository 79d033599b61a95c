// Package capture defines the capture device contract, the stream
// configuration established before capture starts, and the callback
// adapters that turn raw frame descriptors into queued media packets.
package capture

import "fmt"

// PixelFormat selects the video pixel packing delivered by the device.
type PixelFormat int

// Supported pixel formats.
const (
	PixelFormatUYVY PixelFormat = iota // 8-bit 4:2:2
	PixelFormatV210                    // 10-bit 4:2:2
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatUYVY:
		return "uyvy422"
	case PixelFormatV210:
		return "v210"
	default:
		return "unknown"
	}
}

// BitDepth returns the per-component bit depth.
func (p PixelFormat) BitDepth() int {
	if p == PixelFormatV210 {
		return 10
	}
	return 8
}

// PixelFormatForDepth maps a CLI bit depth to a pixel format.
func PixelFormatForDepth(depth int) (PixelFormat, error) {
	switch depth {
	case 8:
		return PixelFormatUYVY, nil
	case 10:
		return PixelFormatV210, nil
	default:
		return 0, fmt.Errorf("pixel format depth must be either 8 bits or 10 bits, got %d", depth)
	}
}

// SampleRate is fixed by the capture hardware.
const SampleRate = 48000

// audioTimeBaseNum is the numerator of the audio stream time base
// (1/48000). Device audio timestamps are already in sample units.
const audioTimeBaseNum = 1

// StreamConfig holds the video and audio parameters plus the device
// selectors, established once before capture starts and never mutated
// afterward.
type StreamConfig struct {
	// Video.
	Width       int
	Height      int
	TimeBaseNum int64
	TimeBaseDen int64
	PixelFormat PixelFormat

	// Audio. SampleRate is fixed at 48 kHz.
	Channels    int
	SampleDepth int // bits, 16 or 32

	// Device selection.
	VideoMode       int
	Instance        int
	VideoConnection int
	AudioConnection int
}

// BytesPerSample returns the audio sample width in bytes.
func (c StreamConfig) BytesPerSample() int {
	return c.SampleDepth / 8
}

// Validate checks the configuration against what the hardware and the
// container stack support. Failures here are configuration errors: fatal
// before capture begins.
func (c StreamConfig) Validate() error {
	switch c.SampleDepth {
	case 16, 32:
	default:
		return fmt.Errorf("audio sample depth must be 16 or 32 bits, got %d", c.SampleDepth)
	}
	switch c.Channels {
	case 2, 8, 16:
	default:
		return fmt.Errorf("audio channel count must be 2, 8 or 16, got %d", c.Channels)
	}
	switch c.PixelFormat {
	case PixelFormatUYVY, PixelFormatV210:
	default:
		return fmt.Errorf("unsupported pixel format %d", c.PixelFormat)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.TimeBaseNum <= 0 || c.TimeBaseDen <= 0 {
		return fmt.Errorf("invalid time base %d/%d", c.TimeBaseNum, c.TimeBaseDen)
	}
	return nil
}
