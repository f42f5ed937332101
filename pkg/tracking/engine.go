// Package tracking defines the capability set the AR pipeline needs from a
// tracking engine, plus the trackable registry and a mock engine.
//
// The engine itself (marker detection, pose estimation) lives behind the
// Engine interface. Backends:
//   - Mock - scripted poses for CI and tests (this package)
//   - Detection - gocv face detection (pkg/tracking/detection)
package tracking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-arx/pkg/capture"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotInitialized is returned when Start is called before Initialize.
	ErrNotInitialized = errors.New("tracking: engine not initialized")

	// ErrNotRunning is returned when frames are pushed to a stopped engine.
	ErrNotRunning = errors.New("tracking: engine not running")

	// ErrFrameRejected is returned when the engine refuses a frame.
	ErrFrameRejected = errors.New("tracking: frame rejected")

	// ErrUnknownTrackable is returned for a trackable ID the engine never issued.
	ErrUnknownTrackable = errors.New("tracking: unknown trackable")

	// ErrUnsupportedEncoding is returned when a frame's encoding cannot be consumed.
	ErrUnsupportedEncoding = errors.New("tracking: unsupported pixel encoding")

	// ErrInvalidClipPlanes is returned for a projection with far <= near or near <= 0.
	ErrInvalidClipPlanes = errors.New("tracking: invalid clip planes")
)

// StreamConfig describes the video stream the engine will receive.
type StreamConfig struct {
	Format capture.StreamFormat
	Device capture.DeviceIdentity

	// CameraParams names the camera calibration file, if any.
	CameraParams string
}

// VideoConfig renders the stream as a video configuration string of the form
// "-module=External -width=640 -height=480 -format=NV21 -position=back".
func (c StreamConfig) VideoConfig() string {
	position := "back"
	if c.Device.Facing == capture.FacingUser {
		position = "front"
	}
	parts := []string{
		"-module=External",
		fmt.Sprintf("-width=%d", c.Format.Width),
		fmt.Sprintf("-height=%d", c.Format.Height),
		"-format=" + string(c.Format.Encoding),
		"-position=" + position,
	}
	if c.Device.Index > 0 {
		parts = append(parts, fmt.Sprintf("-index=%d", c.Device.Index))
	}
	return strings.Join(parts, " ")
}

// Engine is the external tracking engine.
//
// Initialize and Shutdown bracket the engine's lifetime; Start and Stop
// bracket one video stream. PushFrame is called from a single goroutine per
// stream and must not retain the frame after it returns.
type Engine interface {
	// Name returns the backend name.
	Name() string

	// Initialize prepares the engine, loading resources from resourceDir.
	Initialize(resourceDir string) error

	// Start begins a stream with the given geometry.
	Start(cfg StreamConfig) error

	// PushFrame hands one frame to the engine and updates tracking state.
	PushFrame(buf *capture.FrameBuffer) error

	// AddTrackable registers a trackable from a configuration string and
	// returns its ID.
	AddTrackable(config string) (int, error)

	// RemoveTrackable unregisters a trackable.
	RemoveTrackable(id int) error

	// QueryPose returns the trackable's pose and whether it is visible.
	QueryPose(id int) (Matrix4, bool)

	// ProjectionMatrix returns the camera projection for the current stream,
	// for rendering content over the camera image. It fails with
	// ErrNotRunning when no stream is active.
	ProjectionMatrix(near, far float32) (Matrix4, error)

	// Running reports whether a stream is active.
	Running() bool

	// Stop ends the current stream. Stopping a stopped engine is a no-op.
	Stop() error

	// Shutdown releases every engine resource.
	Shutdown() error
}
