package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/deckgrab/deckgrab/internal/events"
	"github.com/deckgrab/deckgrab/internal/logging"
	"github.com/deckgrab/deckgrab/internal/metrics"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// frameLogInterval controls the periodic progress log in the video callback.
const frameLogInterval = 25

// Adapter converts raw captured frame descriptors into media packets and
// enqueues them. Its methods run on the device's delivery threads, so they
// must complete in bounded time; the only blocking they do is the queue's
// internal lock. Enqueue failures are absorbed: the frame is dropped,
// counted and published, and capture continues.
type Adapter struct {
	queue  *packet.Queue
	bus    *events.Bus
	mtx    *metrics.Metrics
	logger logging.Logger

	videoTBNum  int64
	videoIndex  int
	audioIndex  int
	channels    int
	sampleBytes int

	videoFrames  atomic.Int64
	audioBlocks  atomic.Int64
	videoDropped atomic.Int64
	audioDropped atomic.Int64
}

// NewAdapter creates the callback adapter for one capture session. The
// stream indexes are the ones the muxer assigned.
func NewAdapter(q *packet.Queue, cfg StreamConfig, videoIndex, audioIndex int,
	bus *events.Bus, mtx *metrics.Metrics, logger logging.Logger) *Adapter {
	return &Adapter{
		queue:       q,
		bus:         bus,
		mtx:         mtx,
		logger:      logger,
		videoTBNum:  cfg.TimeBaseNum,
		videoIndex:  videoIndex,
		audioIndex:  audioIndex,
		channels:    cfg.Channels,
		sampleBytes: cfg.BytesPerSample(),
	}
}

// OnVideoFrame wraps a captured video frame into a packet and enqueues it.
// The buffer is wrapped by reference; the device must not reuse it after
// handoff. Returns non-nil only when the device breaks its delivery
// contract, which stops capture.
func (a *Adapter) OnVideoFrame(buf []byte, width, height, stride int, timestamp, duration int64, flags uint32) error {
	size := stride * height
	if len(buf) < size {
		return fmt.Errorf("video frame buffer too small: %d bytes for %dx%d stride %d", len(buf), width, height, stride)
	}

	n := a.videoFrames.Add(1)
	a.mtx.FramesCaptured.WithLabelValues("video").Inc()

	if n%frameLogInterval == 1 {
		a.logger.Debug("video frame received",
			"frame", n,
			"bytes", size,
			"queue_mib", float64(a.queue.Size())/(1<<20))
	}

	pkt := &packet.MediaPacket{
		Kind:        packet.StreamVideo,
		Data:        buf[:size],
		PTS:         timestamp / a.videoTBNum,
		DTS:         timestamp / a.videoTBNum,
		Duration:    duration / a.videoTBNum,
		Keyframe:    true, // raw video is always independently decodable
		StreamIndex: a.videoIndex,
	}

	if err := a.queue.Enqueue(pkt); err != nil {
		a.videoDropped.Add(1)
		a.dropped(packet.StreamVideo, size, err)
		return nil
	}
	a.mtx.BytesEnqueued.WithLabelValues("video").Add(float64(size))
	return nil
}

// OnAudioFrame wraps a captured audio block into a packet and enqueues it.
func (a *Adapter) OnAudioFrame(buf []byte, sampleCount int, timestamp int64, flags uint32) error {
	size := sampleCount * a.channels * a.sampleBytes
	if len(buf) < size {
		return fmt.Errorf("audio block buffer too small: %d bytes for %d samples", len(buf), sampleCount)
	}

	a.audioBlocks.Add(1)
	a.mtx.FramesCaptured.WithLabelValues("audio").Inc()

	pkt := &packet.MediaPacket{
		Kind:        packet.StreamAudio,
		Data:        buf[:size],
		PTS:         timestamp / audioTimeBaseNum,
		DTS:         timestamp / audioTimeBaseNum,
		Keyframe:    true, // PCM is always independently decodable
		StreamIndex: a.audioIndex,
	}

	if err := a.queue.Enqueue(pkt); err != nil {
		a.audioDropped.Add(1)
		a.dropped(packet.StreamAudio, size, err)
		return nil
	}
	a.mtx.BytesEnqueued.WithLabelValues("audio").Add(float64(size))
	return nil
}

// dropped records a producer-side loss. Never escalated past the adapter.
func (a *Adapter) dropped(kind packet.StreamKind, size int, err error) {
	a.mtx.FramesDropped.WithLabelValues(kind.String()).Inc()
	a.bus.Publish(events.PacketDroppedEvent{
		Stream:    kind.String(),
		SizeBytes: size,
		Error:     err.Error(),
	})
	a.logger.Warn("packet dropped", "stream", kind.String(), "bytes", size, "error", err)
}

// VideoFrames returns the number of video frames delivered by the device.
func (a *Adapter) VideoFrames() int64 {
	return a.videoFrames.Load()
}

// Dropped returns the number of video and audio packets dropped on enqueue.
func (a *Adapter) Dropped() (video, audio int64) {
	return a.videoDropped.Load(), a.audioDropped.Load()
}
