package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/tracking"
)

func TestMarkerScene_ReconfigureAfterShutdown(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	engine := tracking.NewMockEngine()
	if err := engine.Initialize(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	scene := newMarkerScene(engine, []string{"single;hiro.patt;80", "single;kanji.patt;80"}, logger)

	if err := scene.ConfigureScene(capture.DeviceIdentity{}); err != nil {
		t.Fatalf("ConfigureScene failed: %v", err)
	}
	if poses := scene.Snapshot().(Scene).Poses; len(poses) != 2 {
		t.Fatalf("Snapshot has %d poses, want 2", len(poses))
	}

	// Shutdown drops the engine's trackables; reconfiguring must still work.
	if err := engine.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := scene.ConfigureScene(capture.DeviceIdentity{}); err != nil {
		t.Fatalf("ConfigureScene after shutdown failed: %v", err)
	}
	if poses := scene.Snapshot().(Scene).Poses; len(poses) != 2 {
		t.Errorf("Snapshot has %d poses after reconfigure, want 2", len(poses))
	}
	if got := strings.Count(logs.String(), "remove trackable failed"); got != 2 {
		t.Errorf("Logged %d remove failures, want 2:\n%s", got, logs.String())
	}
}

func TestMarkerScene_Projection(t *testing.T) {
	engine := tracking.NewMockEngine()
	_ = engine.Initialize("")
	scene := newMarkerScene(engine, []string{"single;hiro.patt;80"}, slog.New(slog.DiscardHandler))

	if p := scene.Snapshot().(Scene).Projection; p != nil {
		t.Errorf("Projection before streaming = %v, want none", *p)
	}

	cfg := tracking.StreamConfig{Format: capture.StreamFormat{Width: 640, Height: 480, Encoding: capture.EncodingNV21}}
	if err := engine.Start(cfg); err != nil {
		t.Fatal(err)
	}
	p := scene.Snapshot().(Scene).Projection
	if p == nil {
		t.Fatal("Projection missing while streaming")
	}
	if p[11] != -1 {
		t.Errorf("Projection is not a perspective matrix: %v", *p)
	}
}
