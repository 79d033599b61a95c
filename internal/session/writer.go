package session

import (
	"fmt"

	"github.com/deckgrab/deckgrab/internal/events"
	"github.com/deckgrab/deckgrab/internal/packet"
)

// writeLoop is the single consumer. It blocks in Dequeue until the queue is
// aborted and drained, forwarding each packet to the muxer and evaluating
// the shutdown limits after every successful write. Limit breaches only
// raise the stop signal; the loop keeps draining until the controller
// aborts the queue. A muxer write failure is fatal: no further packets are
// written, but the loop still drains so producers are not left resident.
func (s *Session) writeLoop() error {
	var writeErr error

	for {
		pkt, ok := s.queue.Dequeue(true)
		if !ok {
			return writeErr
		}
		if writeErr != nil {
			continue
		}

		if err := s.muxer.WritePacket(pkt); err != nil {
			writeErr = fmt.Errorf("muxer rejected packet: %w", err)
			s.mtx.WriteErrors.Inc()
			s.bus.Publish(events.MuxerErrorEvent{Error: err.Error()})
			s.logger.Error("muxer write failed", "stream", pkt.Kind.String(), "error", err)
			s.signalStop(StopMuxerError)
			continue
		}

		s.packetsWritten.Add(1)
		s.mtx.PacketsWritten.Inc()
		if pkt.Kind == packet.StreamVideo {
			s.videoWritten.Add(1)
		}

		// Limit checks, frame count first. Both advisory.
		if max := s.limits.MaxFrames; max > 0 && s.videoWritten.Load() > max {
			s.signalStop(StopFrameLimit)
		}
		if limit := s.limits.MemoryLimitBytes; limit > 0 && s.queue.Size() > limit {
			s.signalStop(StopMemoryLimit)
		}
	}
}
