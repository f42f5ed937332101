package capture

// Driver opens capture devices on a platform backend.
//
// Drivers report results asynchronously from their own goroutines and must
// never invoke a callback synchronously from inside Open or Configure.
type Driver interface {
	// Name returns the backend name (e.g., "mock", "opencv").
	Name() string

	// Open starts opening the device. Exactly one of cb.Opened or cb.Error is
	// called for the open itself. cb.Error may be called again later, after
	// Opened, when the device is disconnected or fails.
	Open(id DeviceIdentity, cb DeviceCallbacks)
}

// DeviceCallbacks receives device-level events.
type DeviceCallbacks struct {
	Opened func(h Handle)
	Error  func(err error)
}

// Handle is an open device.
type Handle interface {
	// Configure starts a capture session producing frames in format into sink.
	// done is called once with nil when frames are about to flow, or with an
	// error when the device rejects the format.
	Configure(format StreamFormat, sink FrameSink, done func(err error))

	// Close releases the device and stops frame production. After Close
	// returns the handle publishes no further frames.
	Close() error
}

// FrameSink accepts frames from a producer.
type FrameSink interface {
	// Publish hands a frame over. It never blocks. The sink takes ownership
	// and releases the frame when done with it.
	Publish(buf *FrameBuffer)
}

// StreamListener is notified about one session's stream.
//
// StreamStarted and StreamStopped arrive on the device-callback context with
// the session lock held, so implementations must not call back into the
// Session from them. StreamFrame runs on the session's delivery goroutine; it
// is never re-entered, never runs before StreamStarted returns and never after
// StreamStopped is called.
type StreamListener interface {
	StreamStarted(format StreamFormat, id DeviceIdentity)
	StreamFrame(buf *FrameBuffer)
	StreamStopped()
}
