package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Synthetic is a capture device that generates a moving test pattern and a
// PCM sine-shaped ramp on its own delivery goroutines. It honors the same
// contract as the hardware driver: callbacks run concurrently on two
// threads, timestamps are device-native, and Stop guarantees no further
// invocations after it returns. Used by tests and `record --device synthetic`.
type Synthetic struct {
	mu         sync.Mutex
	cfg        StreamConfig
	configured bool
	videoCB    VideoFrameFunc
	audioCB    AudioFrameFunc

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSynthetic creates an unconfigured synthetic device.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// Configure validates and stores the stream configuration.
func (d *Synthetic) Configure(cfg StreamConfig) error {
	if d.running.Load() {
		return errors.New("cannot configure a running device")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.configured = true
	d.mu.Unlock()
	return nil
}

// SetCallbacks registers the frame delivery callbacks.
func (d *Synthetic) SetCallbacks(video VideoFrameFunc, audio AudioFrameFunc) {
	d.mu.Lock()
	d.videoCB = video
	d.audioCB = audio
	d.mu.Unlock()
}

// Start launches the video and audio delivery goroutines.
func (d *Synthetic) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		return errors.New("device not configured")
	}
	if d.videoCB == nil || d.audioCB == nil {
		return errors.New("callbacks not registered")
	}
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("device already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(2)
	go d.deliverVideo(ctx, d.cfg, d.videoCB)
	go d.deliverAudio(ctx, d.cfg, d.audioCB)
	return nil
}

// Stop halts frame delivery. When it returns, no further callback
// invocations happen. Idempotent.
func (d *Synthetic) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	return nil
}

// Close releases the device. Stops delivery first if still running.
func (d *Synthetic) Close() error {
	return d.Stop()
}

// frameStride returns the row stride for the configured pixel format.
func frameStride(cfg StreamConfig) int {
	if cfg.PixelFormat == PixelFormatV210 {
		// v210 packs 6 pixels into 16 bytes, rows padded to 128-byte groups.
		return ((cfg.Width + 47) / 48) * 128
	}
	return cfg.Width * 2 // UYVY, 2 bytes per pixel
}

func (d *Synthetic) deliverVideo(ctx context.Context, cfg StreamConfig, cb VideoFrameFunc) {
	defer d.wg.Done()

	stride := frameStride(cfg)
	interval := time.Duration(cfg.TimeBaseNum * int64(time.Second) / cfg.TimeBaseDen)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frame int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The consumer wraps buffers by reference, so every frame gets its
		// own allocation instead of a reused scratch buffer.
		buf := make([]byte, stride*cfg.Height)
		shade := byte(frame)
		for row := 0; row < cfg.Height; row++ {
			line := buf[row*stride : (row+1)*stride]
			for i := range line {
				line[i] = shade + byte(row+i)
			}
		}

		timestamp := frame * cfg.TimeBaseNum
		if err := cb(buf, cfg.Width, cfg.Height, stride, timestamp, cfg.TimeBaseNum, 0); err != nil {
			return
		}
		frame++
	}
}

func (d *Synthetic) deliverAudio(ctx context.Context, cfg StreamConfig, cb AudioFrameFunc) {
	defer d.wg.Done()

	// One block per video frame interval, like the hardware delivers.
	samplesPerBlock := int(int64(SampleRate) * cfg.TimeBaseNum / cfg.TimeBaseDen)
	if samplesPerBlock <= 0 {
		samplesPerBlock = 1024
	}
	blockBytes := samplesPerBlock * cfg.Channels * cfg.BytesPerSample()
	interval := time.Duration(int64(samplesPerBlock) * int64(time.Second) / SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var samples int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		buf := make([]byte, blockBytes)
		for i := range buf {
			buf[i] = byte(samples + int64(i))
		}

		if err := cb(buf, samplesPerBlock, samples, 0); err != nil {
			return
		}
		samples += int64(samplesPerBlock)
	}
}
