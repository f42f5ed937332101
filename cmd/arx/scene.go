package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/tracking"
)

// markerScene registers the configured trackables with the engine when the
// first frame arrives and reports their poses to the dashboard.
type markerScene struct {
	engine  tracking.Engine
	configs []string
	logger  *slog.Logger

	mu  sync.Mutex
	ids map[int]string
}

// Clip planes for the projection sent with each scene.
const (
	nearPlane = 0.1
	farPlane  = 1000
)

// Scene is one frame of the scene feed. Projection is omitted while no
// stream is active.
type Scene struct {
	Projection *tracking.Matrix4 `json:"projection,omitempty"`
	Poses      []Pose            `json:"poses"`
}

// Pose is one trackable's state in the scene feed.
type Pose struct {
	ID      int              `json:"id"`
	Config  string           `json:"config"`
	Visible bool             `json:"visible"`
	Matrix  tracking.Matrix4 `json:"matrix"`
}

func newMarkerScene(engine tracking.Engine, configs []string, logger *slog.Logger) *markerScene {
	return &markerScene{
		engine:  engine,
		configs: configs,
		logger:  logger,
		ids:     make(map[int]string),
	}
}

// ConfigureScene replaces the registered trackables. The engine may have been
// shut down and re-initialized since the last stream.
func (s *markerScene) ConfigureScene(id capture.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tid := range s.ids {
		// A shutdown engine has already dropped its trackables.
		if err := s.engine.RemoveTrackable(tid); err != nil {
			s.logger.Debug("remove trackable failed", "id", tid, "error", err)
		}
	}
	clear(s.ids)

	for _, cfg := range s.configs {
		tid, err := s.engine.AddTrackable(cfg)
		if err != nil {
			return fmt.Errorf("trackable %q: %w", cfg, err)
		}
		s.ids[tid] = cfg
	}
	s.logger.Info("scene configured", "device", id.String(), "trackables", len(s.ids))
	return nil
}

// Snapshot returns the current projection and poses.
func (s *markerScene) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene := Scene{Poses: make([]Pose, 0, len(s.ids))}
	if p, err := s.engine.ProjectionMatrix(nearPlane, farPlane); err == nil {
		scene.Projection = &p
	}
	for tid, cfg := range s.ids {
		m, visible := s.engine.QueryPose(tid)
		scene.Poses = append(scene.Poses, Pose{ID: tid, Config: cfg, Visible: visible, Matrix: m})
	}
	return scene
}
