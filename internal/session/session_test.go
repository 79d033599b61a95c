package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deckgrab/deckgrab/internal/capture"
	"github.com/deckgrab/deckgrab/internal/events"
	"github.com/deckgrab/deckgrab/internal/metrics"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// mockMuxer records every call. failOnWrite (1-based) makes that write and
// all later ones fail. gate, when non-nil, blocks each WritePacket until a
// value is received, letting tests hold the writer loop mid-write.
type mockMuxer struct {
	mu           sync.Mutex
	packets      []*packet.MediaPacket
	headerCount  int
	trailerCount int
	closeCount   int
	failOnWrite  int
	writes       int
	gate         chan struct{}
}

func (m *mockMuxer) AddVideoStream(capture.StreamConfig) (int, error) { return 0, nil }
func (m *mockMuxer) AddAudioStream(capture.StreamConfig) (int, error) { return 1, nil }

func (m *mockMuxer) WriteHeader() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerCount++
	return nil
}

func (m *mockMuxer) WritePacket(pkt *packet.MediaPacket) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failOnWrite > 0 && m.writes >= m.failOnWrite {
		return errors.New("no space left on device")
	}
	m.packets = append(m.packets, pkt)
	return nil
}

func (m *mockMuxer) WriteTrailer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trailerCount++
	return nil
}

func (m *mockMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

func (m *mockMuxer) written() []*packet.MediaPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*packet.MediaPacket, len(m.packets))
	copy(out, m.packets)
	return out
}

// mockDevice hands the registered callbacks back to the test, which plays
// the role of the hardware delivery threads.
type mockDevice struct {
	mu        sync.Mutex
	video     capture.VideoFrameFunc
	audio     capture.AudioFrameFunc
	failStart bool
	started   bool
	stopped   bool
	closed    bool
}

func (d *mockDevice) Configure(capture.StreamConfig) error { return nil }

func (d *mockDevice) SetCallbacks(video capture.VideoFrameFunc, audio capture.AudioFrameFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.video = video
	d.audio = audio
}

func (d *mockDevice) Start() error {
	if d.failStart {
		return errors.New("device refused to start")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *mockDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// feedVideo delivers frame number n (0-based) like the hardware would.
func (d *mockDevice) feedVideo(t *testing.T, cfg capture.StreamConfig, n int64) {
	t.Helper()
	stride := cfg.Width * 2
	buf := make([]byte, stride*cfg.Height)
	if err := d.video(buf, cfg.Width, cfg.Height, stride, n*cfg.TimeBaseNum, cfg.TimeBaseNum, 0); err != nil {
		t.Fatalf("video callback: %v", err)
	}
}

func sessionConfig() capture.StreamConfig {
	return capture.StreamConfig{
		Width:       16,
		Height:      4,
		TimeBaseNum: 1001,
		TimeBaseDen: 30000,
		PixelFormat: capture.PixelFormatUYVY,
		Channels:    2,
		SampleDepth: 16,
	}
}

func newTestSession(mm *mockMuxer, md *mockDevice, limits Limits) (*Session, *events.Bus) {
	bus := events.New()
	return New(Options{
		Config:  sessionConfig(),
		Limits:  limits,
		Device:  md,
		Muxer:   mm,
		Bus:     bus,
		Metrics: metrics.New(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), bus
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached state %s (stuck at %s)", want, s.State())
}

func waitForWritten(t *testing.T, s *Session, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.PacketsWritten() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("only %d packets written, want %d", s.PacketsWritten(), want)
}

func TestSessionVideoOnlyEndToEnd(t *testing.T) {
	mm := &mockMuxer{}
	md := &mockDevice{}
	s, bus := newTestSession(mm, md, Limits{MaxFrames: 3})

	var transitions []string
	var transitionsMu sync.Mutex
	unsub := bus.Subscribe(func(e events.StateChangedEvent) {
		transitionsMu.Lock()
		transitions = append(transitions, e.To)
		transitionsMu.Unlock()
	})
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitForState(t, s, StateCapturing)

	cfg := sessionConfig()
	for i := int64(0); i < 3; i++ {
		md.feedVideo(t, cfg, i)
	}
	waitForWritten(t, s, 3)
	s.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	written := mm.written()
	if len(written) != 3 {
		t.Fatalf("wrote %d packets, want 3", len(written))
	}
	for i, pkt := range written {
		if pkt.PTS != int64(i) {
			t.Errorf("packet %d has pts %d, want %d (submission order broken)", i, pkt.PTS, i)
		}
		if pkt.StreamIndex != 0 {
			t.Errorf("packet %d stream index = %d, want 0", i, pkt.StreamIndex)
		}
	}

	if mm.trailerCount != 1 {
		t.Errorf("trailer written %d times, want exactly 1", mm.trailerCount)
	}
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want closed", s.State())
	}
	if !md.stopped || !md.closed {
		t.Error("device not stopped and released")
	}

	// Event delivery is asynchronous; wait for the final transition.
	want := []string{"capturing", "stopping", "closed"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		transitionsMu.Lock()
		got := append([]string(nil), transitions...)
		transitionsMu.Unlock()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state transitions = %v, want %v", got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessionFrameLimitBoundary(t *testing.T) {
	for _, k := range []int64{1, 100} {
		mm := &mockMuxer{}
		md := &mockDevice{}
		s, bus := newTestSession(mm, md, Limits{MaxFrames: k})

		limitCh := make(chan events.LimitReachedEvent, 4)
		unsub := bus.Subscribe(func(e events.LimitReachedEvent) { limitCh <- e })

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background()) }()
		waitForState(t, s, StateCapturing)

		cfg := sessionConfig()
		// K frames must not raise the signal.
		for i := int64(0); i < k; i++ {
			md.feedVideo(t, cfg, i)
		}
		waitForWritten(t, s, k)
		select {
		case e := <-limitCh:
			t.Errorf("K=%d: stop signal raised after only %d frames: %+v", k, k, e)
		case <-time.After(20 * time.Millisecond):
		}

		// Frame K+1 raises it, exactly once.
		md.feedVideo(t, cfg, k)
		select {
		case e := <-limitCh:
			if e.Limit != "frames" {
				t.Errorf("K=%d: limit kind = %s, want frames", k, e.Limit)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("K=%d: stop signal not raised after frame K+1", k)
		}

		if err := <-done; err != nil {
			t.Fatalf("K=%d: Run: %v", k, err)
		}
		if got := s.Reason(); got != StopFrameLimit {
			t.Errorf("K=%d: stop reason = %q, want frame limit", k, got)
		}
		// Advisory: the K+1th packet is still written.
		if got := s.PacketsWritten(); got != k+1 {
			t.Errorf("K=%d: packets written = %d, want %d", k, got, k+1)
		}
		select {
		case <-limitCh:
			t.Errorf("K=%d: stop signal raised more than once", k)
		default:
		}
		unsub()
	}
}

func TestSessionFrameLimitZeroIsUnbounded(t *testing.T) {
	mm := &mockMuxer{}
	md := &mockDevice{}
	s, bus := newTestSession(mm, md, Limits{MaxFrames: 0})

	limitCh := make(chan events.LimitReachedEvent, 1)
	unsub := bus.Subscribe(func(e events.LimitReachedEvent) { limitCh <- e })
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitForState(t, s, StateCapturing)

	cfg := sessionConfig()
	for i := int64(0); i < 10; i++ {
		md.feedVideo(t, cfg, i)
	}
	waitForWritten(t, s, 10)

	select {
	case e := <-limitCh:
		t.Errorf("frame limit 0 raised stop signal: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}

	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Reason(); got != StopRequested {
		t.Errorf("stop reason = %q, want requested", got)
	}
}

func TestSessionMemoryLimit(t *testing.T) {
	mm := &mockMuxer{gate: make(chan struct{})}
	md := &mockDevice{}
	s, bus := newTestSession(mm, md, Limits{MemoryLimitBytes: 64})

	limitCh := make(chan events.LimitReachedEvent, 2)
	unsub := bus.Subscribe(func(e events.LimitReachedEvent) { limitCh <- e })
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitForState(t, s, StateCapturing)

	cfg := sessionConfig()
	// First frame: the writer picks it up and blocks inside WritePacket.
	md.feedVideo(t, cfg, 0)
	// Two more frames stay resident: well over the 64-byte limit.
	md.feedVideo(t, cfg, 1)
	md.feedVideo(t, cfg, 2)

	// Releasing the held write completes it; the post-write memory check
	// must fire now, and only now.
	select {
	case e := <-limitCh:
		t.Fatalf("stop signal raised before any write completed: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
	mm.gate <- struct{}{}

	select {
	case e := <-limitCh:
		if e.Limit != "memory" {
			t.Errorf("limit kind = %s, want memory", e.Limit)
		}
		if e.QueueBytes <= 64 {
			t.Errorf("queue bytes at signal = %d, want > 64", e.QueueBytes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop signal not raised after write with queue over limit")
	}

	// Draining continues: release the remaining writes.
	mm.gate <- struct{}{}
	mm.gate <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Reason(); got != StopMemoryLimit {
		t.Errorf("stop reason = %q, want memory limit", got)
	}
	if got := len(mm.written()); got != 3 {
		t.Errorf("wrote %d packets, want 3 (abort must not discard residents)", got)
	}
}

func TestSessionMuxerWriteErrorIsFatal(t *testing.T) {
	mm := &mockMuxer{failOnWrite: 2}
	md := &mockDevice{}
	s, bus := newTestSession(mm, md, Limits{})

	muxErrCh := make(chan events.MuxerErrorEvent, 1)
	unsub := bus.Subscribe(func(e events.MuxerErrorEvent) { muxErrCh <- e })
	defer unsub()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitForState(t, s, StateCapturing)

	cfg := sessionConfig()
	for i := int64(0); i < 3; i++ {
		md.feedVideo(t, cfg, i)
	}

	select {
	case <-muxErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("muxer error event not published")
	}

	err := <-done
	if err == nil {
		t.Fatal("Run returned nil after a fatal muxer write error")
	}
	if got := s.Reason(); got != StopMuxerError {
		t.Errorf("stop reason = %q, want muxer error", got)
	}
	// Only the packet written before the failure made it out.
	if got := len(mm.written()); got != 1 {
		t.Errorf("wrote %d packets, want 1", got)
	}
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want closed", s.State())
	}
	if mm.closeCount == 0 {
		t.Error("muxer not closed after fatal error")
	}
}

func TestSessionDeviceStartFailure(t *testing.T) {
	mm := &mockMuxer{}
	md := &mockDevice{failStart: true}
	s, _ := newTestSession(mm, md, Limits{})

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run returned nil when the device failed to start")
	}
	// Best-effort cleanup still happens.
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want closed", s.State())
	}
	if mm.closeCount == 0 {
		t.Error("muxer not closed after device start failure")
	}
	if !md.closed {
		t.Error("device not released after start failure")
	}
}

func TestSessionContextCancelStops(t *testing.T) {
	mm := &mockMuxer{}
	md := &mockDevice{}
	s, _ := newTestSession(mm, md, Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitForState(t, s, StateCapturing)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Reason(); got != StopRequested {
		t.Errorf("stop reason = %q, want requested", got)
	}
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want closed", s.State())
	}
}

func TestSessionRunTwiceFails(t *testing.T) {
	mm := &mockMuxer{}
	md := &mockDevice{}
	s, _ := newTestSession(mm, md, Limits{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitForState(t, s, StateCapturing)
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := s.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestSessionWithSyntheticDevice(t *testing.T) {
	mm := &mockMuxer{}
	dev := capture.NewSynthetic()
	cfg := capture.StreamConfig{
		Width:       64,
		Height:      8,
		TimeBaseNum: 1,
		TimeBaseDen: 100,
		PixelFormat: capture.PixelFormatUYVY,
		Channels:    2,
		SampleDepth: 16,
	}
	bus := events.New()
	s := New(Options{
		Config:  cfg,
		Limits:  Limits{MaxFrames: 5},
		Device:  dev,
		Muxer:   mm,
		Bus:     bus,
		Metrics: metrics.New(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Reason(); got != StopFrameLimit {
		t.Errorf("stop reason = %q, want frame limit", got)
	}
	if got := len(mm.written()); got < 6 {
		t.Errorf("wrote %d packets, want at least 6 (K+1 video frames)", got)
	}
	if mm.trailerCount != 1 {
		t.Errorf("trailer written %d times, want 1", mm.trailerCount)
	}
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want closed", s.State())
	}
}
