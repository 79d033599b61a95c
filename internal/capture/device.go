package capture

// VideoFrameFunc receives one captured video frame on the device's delivery
// thread. buf holds at least stride*height bytes; timestamp and duration
// are in device-native units. A non-nil return tells the device to stop
// delivering frames, so implementations must only fail on unrecoverable
// internal errors.
type VideoFrameFunc func(buf []byte, width, height, stride int, timestamp, duration int64, flags uint32) error

// AudioFrameFunc receives one captured audio block on the device's delivery
// thread. buf holds sampleCount interleaved samples for every configured
// channel. Same failure contract as VideoFrameFunc.
type AudioFrameFunc func(buf []byte, sampleCount int, timestamp int64, flags uint32) error

// Device is the capture hardware contract. Configure must be called before
// Start; the configuration is immutable afterward. Callbacks are invoked on
// the device's own delivery threads, potentially concurrently with each
// other. After Stop returns, no further callback invocations happen.
type Device interface {
	Configure(cfg StreamConfig) error
	SetCallbacks(video VideoFrameFunc, audio AudioFrameFunc)
	Start() error
	Stop() error
	Close() error
}
