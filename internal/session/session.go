// Package session owns the capture lifecycle: it wires the device callbacks
// to the packet queue, drains the queue into the muxer on a dedicated
// goroutine, and drives the Idle → Capturing → Stopping → Closed state
// machine under two independent stop conditions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deckgrab/deckgrab/internal/capture"
	"github.com/deckgrab/deckgrab/internal/events"
	"github.com/deckgrab/deckgrab/internal/logging"
	"github.com/deckgrab/deckgrab/internal/metrics"
	"github.com/deckgrab/deckgrab/internal/mux"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// Options configures a capture session. All fields are required.
type Options struct {
	Config  capture.StreamConfig
	Limits  Limits
	Device  capture.Device
	Muxer   mux.Muxer
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// Session is the explicit context object shared by the controller, the
// callback adapters and the writer loop. The queue is the only member
// mutated from multiple goroutines; the muxer is touched by the writer loop
// and, at setup/teardown, by the controller, never concurrently.
type Session struct {
	cfg     capture.StreamConfig
	limits  Limits
	dev     capture.Device
	muxer   mux.Muxer
	queue   *packet.Queue
	adapter *capture.Adapter
	bus     *events.Bus
	mtx     *metrics.Metrics
	logger  logging.Logger

	stateMu sync.Mutex
	state   State

	stopOnce   sync.Once
	stopCh     chan struct{}
	stopReason StopReason

	videoWritten   atomic.Int64
	packetsWritten atomic.Int64
}

// New creates a session in the Idle state.
func New(opts Options) *Session {
	s := &Session{
		cfg:    opts.Config,
		limits: opts.Limits,
		dev:    opts.Device,
		muxer:  opts.Muxer,
		queue:  packet.New(),
		bus:    opts.Bus,
		mtx:    opts.Metrics,
		logger: opts.Logger,
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}
	s.mtx.ObserveQueue(s.queue.Size, s.queue.Len)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// PacketsWritten returns the number of packets the muxer accepted.
func (s *Session) PacketsWritten() int64 {
	return s.packetsWritten.Load()
}

// Reason returns what raised the stop signal, or "" if it has not been
// raised yet.
func (s *Session) Reason() StopReason {
	select {
	case <-s.stopCh:
		return s.stopReason
	default:
		return ""
	}
}

// Stop raises the stop signal from outside the pipeline (operator request,
// signal handler). Idempotent.
func (s *Session) Stop() {
	s.signalStop(StopRequested)
}

// Run executes the full lifecycle and blocks until the session is Closed.
// Cancelling ctx is equivalent to calling Stop. The returned error is the
// terminal failure, or nil on a clean stop.
func (s *Session) Run(ctx context.Context) error {
	if st := s.State(); st != StateIdle {
		return fmt.Errorf("session already ran (state %s)", st)
	}

	// Idle → Capturing: declare streams, write the header, start the
	// writer, then start the device.
	videoIdx, err := s.muxer.AddVideoStream(s.cfg)
	if err != nil {
		return s.failSetup(fmt.Errorf("adding video stream: %w", err))
	}
	audioIdx, err := s.muxer.AddAudioStream(s.cfg)
	if err != nil {
		return s.failSetup(fmt.Errorf("adding audio stream: %w", err))
	}

	s.adapter = capture.NewAdapter(s.queue, s.cfg, videoIdx, audioIdx, s.bus, s.mtx, s.logger)
	s.dev.SetCallbacks(s.adapter.OnVideoFrame, s.adapter.OnAudioFrame)

	if err := s.dev.Configure(s.cfg); err != nil {
		return s.failSetup(fmt.Errorf("configuring capture device: %w", err))
	}
	if err := s.muxer.WriteHeader(); err != nil {
		return s.failSetup(fmt.Errorf("writing container header: %w", err))
	}

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- s.writeLoop()
	}()

	if err := s.dev.Start(); err != nil {
		// DeviceError at start: abort the writer and still finalize what
		// was already acquired.
		s.bus.Publish(events.DeviceErrorEvent{Op: "start", Error: err.Error()})
		s.logger.Error("capture device failed to start", "error", err)
		s.queue.Abort()
		<-writerDone
		s.setState(StateStopping, "device error")
		finErr := s.finalize()
		return errors.Join(fmt.Errorf("starting capture device: %w", err), finErr)
	}

	s.setState(StateCapturing, "")
	s.logger.Info("capture started",
		"size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"pixel_format", s.cfg.PixelFormat.String(),
		"channels", s.cfg.Channels,
		"sample_depth", s.cfg.SampleDepth)

	select {
	case <-ctx.Done():
		s.signalStop(StopRequested)
	case <-s.stopCh:
	}

	// Capturing → Stopping: stop the device first so no callbacks arrive
	// after this point, then let the writer drain what is resident.
	s.setState(StateStopping, string(s.stopReason))
	s.logger.Info("stopping capture", "reason", string(s.stopReason))

	var stopErr error
	if err := s.dev.Stop(); err != nil {
		stopErr = fmt.Errorf("stopping capture device: %w", err)
		s.bus.Publish(events.DeviceErrorEvent{Op: "stop", Error: err.Error()})
		s.logger.Error("capture device failed to stop", "error", err)
	}
	s.queue.Abort()
	writeErr := <-writerDone
	if writeErr != nil {
		s.queue.Flush()
	}

	// Stopping → Closed.
	finErr := s.finalize()

	videoDropped, audioDropped := s.adapter.Dropped()
	s.logger.Info("capture closed",
		"packets_written", s.packetsWritten.Load(),
		"video_frames", s.adapter.VideoFrames(),
		"dropped_video", videoDropped,
		"dropped_audio", audioDropped)

	return errors.Join(writeErr, stopErr, finErr)
}

// failSetup tears down a session whose setup never reached Capturing.
// Configuration errors never touch the runtime pipeline.
func (s *Session) failSetup(err error) error {
	s.queue.Abort()
	closeErr := s.muxer.Close()
	devErr := s.dev.Close()
	s.setState(StateStopping, "setup failed")
	s.setState(StateClosed, "")
	return errors.Join(err, closeErr, devErr)
}

// finalize writes the trailer, closes the muxer and releases the device.
// Reached exactly once; the muxer implementations make repeated trailer or
// close calls no-ops.
func (s *Session) finalize() error {
	trailerErr := s.muxer.WriteTrailer()
	closeErr := s.muxer.Close()
	devErr := s.dev.Close()
	s.setState(StateClosed, "")
	return errors.Join(trailerErr, closeErr, devErr)
}

func (s *Session) setState(to State, reason string) {
	s.stateMu.Lock()
	from := s.state
	s.state = to
	s.stateMu.Unlock()

	if from == to {
		return
	}
	s.bus.Publish(events.StateChangedEvent{From: string(from), To: string(to), Reason: reason})
}

// signalStop raises the stop signal exactly once. Advisory for the writer
// loop: draining continues until the controller aborts the queue.
func (s *Session) signalStop(reason StopReason) {
	s.stopOnce.Do(func() {
		s.stopReason = reason
		switch reason {
		case StopFrameLimit:
			s.bus.Publish(events.LimitReachedEvent{
				Limit:          "frames",
				PacketsWritten: s.packetsWritten.Load(),
				QueueBytes:     s.queue.Size(),
			})
			s.logger.Info("frame limit reached", "frames", s.videoWritten.Load())
		case StopMemoryLimit:
			s.bus.Publish(events.LimitReachedEvent{
				Limit:          "memory",
				PacketsWritten: s.packetsWritten.Load(),
				QueueBytes:     s.queue.Size(),
			})
			s.logger.Info("memory limit reached", "queue_bytes", s.queue.Size())
		}
		close(s.stopCh)
	})
}
