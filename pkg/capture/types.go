// Package capture owns the camera side of the AR pipeline: the capture device
// session state machine, the frame delivery channel that hands frames to the
// tracking stage, and the driver contract platform backends implement.
//
// Backends:
//   - Mock - synthetic frames for CI and tests (this package)
//   - OpenCV - gocv VideoCapture (pkg/capture/cvdevice)
package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Facing is the direction a capture device points.
type Facing int

const (
	// FacingEnvironment is a rear (world-facing) camera. This is the default.
	FacingEnvironment Facing = iota
	// FacingUser is a front camera pointing at the user.
	FacingUser
)

// String returns "environment" or "user".
func (f Facing) String() string {
	if f == FacingUser {
		return "user"
	}
	return "environment"
}

// ParseFacing parses "environment"/"back"/"rear" or "user"/"front".
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "environment", "back", "rear":
		return FacingEnvironment, nil
	case "user", "front":
		return FacingUser, nil
	default:
		return FacingEnvironment, fmt.Errorf("unknown camera facing %q", s)
	}
}

// DeviceIdentity selects one capture device. It is resolved once per session start.
type DeviceIdentity struct {
	// Index is the zero-based index among devices with the same facing.
	Index int `json:"index"`
	// Facing is the direction the device points.
	Facing Facing `json:"facing"`
}

// String returns a short form like "0/environment".
func (d DeviceIdentity) String() string {
	return strconv.Itoa(d.Index) + "/" + d.Facing.String()
}

// PixelEncoding is the pixel layout frames are pushed in.
type PixelEncoding string

const (
	// EncodingYUV420 is planar YUV 4:2:0 with three planes (Y, U, V).
	EncodingYUV420 PixelEncoding = "YUV_420_888"
	// EncodingNV21 is semi-planar YUV with interleaved VU.
	EncodingNV21 PixelEncoding = "NV21"
	// EncodingNV12 is semi-planar YUV with interleaved UV.
	EncodingNV12 PixelEncoding = "NV12"
	// EncodingRGBA is packed 8-bit RGBA.
	EncodingRGBA PixelEncoding = "RGBA"
	// EncodingRGB565 is packed 16-bit RGB.
	EncodingRGB565 PixelEncoding = "RGB_565"
	// EncodingMono is 8-bit luminance only.
	EncodingMono PixelEncoding = "MONO"
)

// Encodings lists every supported pixel encoding.
func Encodings() []PixelEncoding {
	return []PixelEncoding{EncodingYUV420, EncodingNV21, EncodingNV12, EncodingRGBA, EncodingRGB565, EncodingMono}
}

// ParsePixelEncoding accepts the canonical names case-insensitively.
func ParsePixelEncoding(s string) (PixelEncoding, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for _, e := range Encodings() {
		if string(e) == want {
			return e, nil
		}
	}
	return "", fmt.Errorf("unsupported pixel encoding %q", s)
}

// PlaneCount returns how many memory planes a frame in this encoding carries.
func (e PixelEncoding) PlaneCount() int {
	switch e {
	case EncodingYUV420:
		return 3
	case EncodingNV21, EncodingNV12:
		return 2
	case EncodingRGBA, EncodingRGB565, EncodingMono:
		return 1
	default:
		return 0
	}
}

// StreamFormat is the width/height/encoding contract negotiated once per session.
type StreamFormat struct {
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Encoding PixelEncoding `json:"encoding"`
}

// Validate checks that the format is usable.
func (f StreamFormat) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("stream format: resolution must be positive, got %dx%d", f.Width, f.Height)
	}
	if f.Encoding.PlaneCount() == 0 {
		return fmt.Errorf("stream format: unsupported pixel encoding %q", f.Encoding)
	}
	return nil
}

// Resolution returns the size as "WxH".
func (f StreamFormat) Resolution() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// String returns e.g. "640x480 YUV_420_888".
func (f StreamFormat) String() string {
	return f.Resolution() + " " + string(f.Encoding)
}

// ParseResolution parses a "WxH" string such as "640x480".
func ParseResolution(s string) (width, height int, err error) {
	dims := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("resolution %q: expected WxH", s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(dims[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: bad width: %w", s, err)
	}
	height, err = strconv.Atoi(strings.TrimSpace(dims[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: bad height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: dimensions must be positive", s)
	}
	return width, height, nil
}

// MaxPlanes is the largest number of planes a FrameBuffer may carry.
const MaxPlanes = 4

// Plane is one memory plane of a frame.
type Plane struct {
	Data        []byte
	PixelStride int
	RowStride   int
}

// FrameBuffer is one captured frame.
//
// A FrameBuffer is valid only for the dynamic extent of the delivery callback
// it is passed to. The producer may recycle the backing memory as soon as the
// callback returns, so listeners must copy anything they want to keep.
type FrameBuffer struct {
	Planes    []Plane
	Seq       uint64
	Timestamp time.Time

	release func()
}

// NewFrameBuffer wraps planes into a frame. release, if non-nil, is invoked
// exactly once when the frame channel is finished with the buffer.
func NewFrameBuffer(seq uint64, ts time.Time, planes []Plane, release func()) *FrameBuffer {
	return &FrameBuffer{Planes: planes, Seq: seq, Timestamp: ts, release: release}
}

// Validate checks the plane count.
func (b *FrameBuffer) Validate() error {
	if n := len(b.Planes); n < 1 || n > MaxPlanes {
		return fmt.Errorf("frame buffer: %d planes, want 1..%d", n, MaxPlanes)
	}
	return nil
}

// Release hands the buffer back to its producer. Safe to call more than once.
func (b *FrameBuffer) Release() {
	if b == nil || b.release == nil {
		return
	}
	fn := b.release
	b.release = nil
	fn()
}
