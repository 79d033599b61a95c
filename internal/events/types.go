package events

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypePacketDropped
	TypeLimitReached
	TypeMuxerError
	TypeDeviceError
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is published on every capture session state transition.
type StateChangedEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// PacketDroppedEvent is published when a capture callback fails to enqueue
// a packet. Drops are absorbed on the producer side, so this event is the
// only runtime trace of the lost frame besides the metrics counter.
type PacketDroppedEvent struct {
	Stream    string `json:"stream"`
	SizeBytes int    `json:"size_bytes"`
	Error     string `json:"error"`
}

// Type returns the event type identifier for PacketDroppedEvent.
func (e PacketDroppedEvent) Type() uint32 { return TypePacketDropped }

// LimitReachedEvent is published by the writer loop when the frame-count or
// memory limit is crossed. Advisory: the session keeps draining until the
// controller aborts the queue.
type LimitReachedEvent struct {
	Limit          string `json:"limit"` // "frames" or "memory"
	PacketsWritten int64  `json:"packets_written"`
	QueueBytes     uint64 `json:"queue_bytes"`
}

// Type returns the event type identifier for LimitReachedEvent.
func (e LimitReachedEvent) Type() uint32 { return TypeLimitReached }

// MuxerErrorEvent is published when the container sink rejects a packet.
type MuxerErrorEvent struct {
	Error string `json:"error"`
}

// Type returns the event type identifier for MuxerErrorEvent.
func (e MuxerErrorEvent) Type() uint32 { return TypeMuxerError }

// DeviceErrorEvent is published when the capture device fails to start or stop.
type DeviceErrorEvent struct {
	Op    string `json:"op"` // "start" or "stop"
	Error string `json:"error"`
}

// Type returns the event type identifier for DeviceErrorEvent.
func (e DeviceErrorEvent) Type() uint32 { return TypeDeviceError }
