// Package packet defines the media packet type and the bounded FIFO queue
// that connects the capture callbacks to the writer loop.
package packet

// StreamKind identifies which capture stream a packet belongs to.
type StreamKind int

// Stream kinds.
const (
	StreamVideo StreamKind = iota
	StreamAudio
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// MediaPacket is one captured unit of audio or video. The payload is handed
// over to the packet at enqueue time: the producer must not keep a mutable
// alias to Data afterwards. Timestamps are in stream time-base units.
type MediaPacket struct {
	Kind        StreamKind
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
	StreamIndex int
}

// Size returns the payload length in bytes.
func (p *MediaPacket) Size() int {
	return len(p.Data)
}
