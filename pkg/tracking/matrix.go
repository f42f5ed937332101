package tracking

import (
	"fmt"
	"math"
)

// Matrix4 is a 4x4 column-major transformation matrix as handed to the
// renderer.
type Matrix4 [16]float32

// Identity returns the identity matrix.
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation matrix.
func Translation(x, y, z float32) Matrix4 {
	m := Identity()
	m[12], m[13], m[14] = x, y, z
	return m
}

// Position returns the translation column.
func (m Matrix4) Position() (x, y, z float32) {
	return m[12], m[13], m[14]
}

// DefaultFieldOfView is the vertical field of view, in degrees, assumed for
// streams without camera calibration.
const DefaultFieldOfView = 45.0

// Perspective returns an OpenGL-style perspective projection. fovY is in
// degrees.
func Perspective(fovY, aspect, near, far float32) (Matrix4, error) {
	if near <= 0 || far <= near {
		return Matrix4{}, fmt.Errorf("%w: near=%g far=%g", ErrInvalidClipPlanes, near, far)
	}
	if aspect <= 0 {
		aspect = 1
	}
	f := float32(1 / math.Tan(float64(fovY)*math.Pi/360))
	var m Matrix4
	m[0] = f / aspect
	m[5] = f
	m[10] = (far + near) / (near - far)
	m[11] = -1
	m[14] = 2 * far * near / (near - far)
	return m, nil
}

// Projection returns the perspective projection matching the stream's aspect
// ratio.
func (c StreamConfig) Projection(near, far float32) (Matrix4, error) {
	aspect := float32(1)
	if c.Format.Width > 0 && c.Format.Height > 0 {
		aspect = float32(c.Format.Width) / float32(c.Format.Height)
	}
	return Perspective(DefaultFieldOfView, aspect, near, far)
}
