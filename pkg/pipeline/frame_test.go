package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/display"
)

func nopSurface() *display.Surface {
	return display.NewSurface(display.RendererFunc(func(context.Context) error { return nil }))
}

func TestSceneListener_ConfiguresOnceAndRedraws(t *testing.T) {
	var configured []capture.DeviceIdentity
	scene := SceneFunc(func(id capture.DeviceIdentity) error {
		configured = append(configured, id)
		return nil
	})
	surface := nopSurface()
	l := NewSceneListener(scene, surface, nil, nil)

	l.OnFirstFrame(testDevice)
	for i := 0; i < 3; i++ {
		l.OnFrameProcessed()
	}

	if len(configured) != 1 || configured[0] != testDevice {
		t.Errorf("ConfigureScene calls = %v", configured)
	}
	if got := surface.Stats().Requests; got != 3 {
		t.Errorf("Redraw requests = %d, want 3", got)
	}
	if l.Redraws() != 3 {
		t.Errorf("Redraws() = %d, want 3", l.Redraws())
	}
}

func TestSceneListener_ConfigurationFailure(t *testing.T) {
	scene := SceneFunc(func(capture.DeviceIdentity) error {
		return errors.New("marker file missing")
	})
	surface := nopSurface()

	var fatal []error
	l := NewSceneListener(scene, surface, func(err error) { fatal = append(fatal, err) }, nil)

	l.OnFirstFrame(testDevice)
	l.OnFrameProcessed()

	if len(fatal) != 1 || !errors.Is(fatal[0], ErrSceneConfiguration) {
		t.Errorf("Fatal errors = %v, want one ErrSceneConfiguration", fatal)
	}
	if surface.Dirty() {
		t.Error("Redraw requested after scene failure")
	}
}

func TestSceneListener_NilCollaborators(t *testing.T) {
	l := NewSceneListener(nil, nil, nil, nil)
	l.OnFirstFrame(testDevice)
	l.OnFrameProcessed()
	if l.Redraws() != 1 {
		t.Errorf("Redraws() = %d, want 1", l.Redraws())
	}
}
