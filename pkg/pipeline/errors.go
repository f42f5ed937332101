package pipeline

import "errors"

// Sentinel errors for pipeline failures.
var (
	// ErrSceneConfiguration is reported when the scene cannot be set up on
	// the first frame. It is fatal for the running session.
	ErrSceneConfiguration = errors.New("pipeline: scene configuration failed")

	// ErrEngineStart is reported when the tracking engine refuses the stream.
	ErrEngineStart = errors.New("pipeline: tracking engine failed to start")

	// ErrEngineInit is returned when the tracking engine cannot be initialized.
	ErrEngineInit = errors.New("pipeline: tracking engine failed to initialize")

	// ErrNotStarted is returned by control calls made before Start.
	ErrNotStarted = errors.New("pipeline: orchestrator not started")

	// ErrStopped is returned by control calls made after Stop.
	ErrStopped = errors.New("pipeline: orchestrator stopped")
)
