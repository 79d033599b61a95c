package session

// State represents the lifecycle stage of a capture session.
type State string

// Session states. Transitions never skip a state: Stopping is always
// entered before Closed.
const (
	StateIdle      State = "idle"      // Constructed, not running
	StateCapturing State = "capturing" // Device delivering, writer draining
	StateStopping  State = "stopping"  // Device stopped, queue draining
	StateClosed    State = "closed"    // Muxer finalized, resources released
)

// StopReason records what raised the stop signal.
type StopReason string

// Stop reasons.
const (
	StopFrameLimit  StopReason = "frame limit reached"
	StopMemoryLimit StopReason = "memory limit reached"
	StopMuxerError  StopReason = "muxer write error"
	StopRequested   StopReason = "stop requested"
)

// Limits is the immutable resource-bound configuration for one session.
type Limits struct {
	// MaxFrames bounds the number of video frames written; zero or
	// negative disables the bound.
	MaxFrames int64
	// MemoryLimitBytes bounds the packet queue's accounted size. Crossing
	// it is advisory: the stop signal is raised, nothing is dropped.
	MemoryLimitBytes uint64
}
