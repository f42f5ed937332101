// Package cvdevice is a capture.Driver backed by OpenCV's VideoCapture.
//
// Devices are addressed by DeviceIdentity.Index. Webcams carry no facing, so
// Facing is only logged. Frames are read as BGR, resized to the negotiated
// format when the device picked a different size, and converted to the
// requested pixel encoding before they are published.
package cvdevice

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-arx/pkg/capture"
	"gocv.io/x/gocv"
)

// ErrReadFailed is reported when the device stops delivering frames.
var ErrReadFailed = errors.New("cvdevice: device stopped delivering frames")

// DefaultMaxReadFailures is how many consecutive failed reads end the stream.
const DefaultMaxReadFailures = 30

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFramerate requests a capture rate from the device.
func WithFramerate(fps int) Option {
	return func(d *Driver) {
		d.framerate = fps
	}
}

// WithMaxReadFailures sets how many consecutive failed reads are tolerated.
func WithMaxReadFailures(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxReadFailures = n
		}
	}
}

// Driver opens OpenCV capture devices.
type Driver struct {
	logger          *slog.Logger
	framerate       int
	maxReadFailures int
}

// New creates a driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		logger:          slog.Default(),
		maxReadFailures: DefaultMaxReadFailures,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("driver", d.Name())
	return d
}

// Name returns "opencv".
func (d *Driver) Name() string {
	return "opencv"
}

// Open implements capture.Driver. The device is opened on a new goroutine.
func (d *Driver) Open(id capture.DeviceIdentity, cb capture.DeviceCallbacks) {
	go func() {
		if id.Facing == capture.FacingUser {
			d.logger.Debug("facing is not selectable on OpenCV devices", "device", id.String())
		}

		vc, err := gocv.OpenVideoCapture(id.Index)
		if err != nil {
			cb.Error(fmt.Errorf("open device %d: %w", id.Index, err))
			return
		}
		if !vc.IsOpened() {
			_ = vc.Close()
			cb.Error(fmt.Errorf("open device %d: not available", id.Index))
			return
		}

		d.logger.Info("device opened", "device", id.String())
		cb.Opened(&Handle{driver: d, id: id, vc: vc, cb: cb, stop: make(chan struct{})})
	}()
}

// Handle is an open OpenCV device.
type Handle struct {
	driver *Driver
	id     capture.DeviceIdentity
	vc     *gocv.VideoCapture
	cb     capture.DeviceCallbacks

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	wg       sync.WaitGroup
	pool     sync.Pool
	seq      uint64
	reported bool
}

// Configure implements capture.Handle. The device is asked for the format's
// size; the first frame decides whether it can stream at all.
func (h *Handle) Configure(format capture.StreamFormat, sink capture.FrameSink, done func(err error)) {
	if !Supported(format.Encoding) {
		go done(fmt.Errorf("encoding %s not supported by OpenCV devices", format.Encoding))
		return
	}
	if needsEvenSize(format.Encoding) && (format.Width%2 != 0 || format.Height%2 != 0) {
		go done(fmt.Errorf("%s needs even dimensions, got %s", format.Encoding, format.Resolution()))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		go done(errors.New("device closed"))
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()

		h.vc.Set(gocv.VideoCaptureFrameWidth, float64(format.Width))
		h.vc.Set(gocv.VideoCaptureFrameHeight, float64(format.Height))
		if h.driver.framerate > 0 {
			h.vc.Set(gocv.VideoCaptureFPS, float64(h.driver.framerate))
		}

		probe := gocv.NewMat()
		ok := h.vc.Read(&probe)
		empty := probe.Empty()
		actual := image.Pt(probe.Cols(), probe.Rows())
		probe.Close()
		if !ok || empty {
			done(errors.New("device delivered no frame"))
			return
		}

		h.driver.logger.Info("capture configured",
			"device", h.id.String(),
			"format", format.String(),
			"device_size", fmt.Sprintf("%dx%d", actual.X, actual.Y),
		)
		done(nil)
		h.readLoop(format, sink)
	}()
}

func (h *Handle) readLoop(format capture.StreamFormat, sink capture.FrameSink) {
	frame := gocv.NewMat()
	defer frame.Close()
	resized := gocv.NewMat()
	defer resized.Close()
	converted := gocv.NewMat()
	defer converted.Close()

	size := image.Pt(format.Width, format.Height)
	failures := 0

	for {
		select {
		case <-h.stop:
			return
		default:
		}

		if ok := h.vc.Read(&frame); !ok || frame.Empty() {
			failures++
			if failures >= h.driver.maxReadFailures {
				h.fail(fmt.Errorf("%w: %d failed reads", ErrReadFailed, failures))
				return
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		failures = 0

		src := frame
		if frame.Cols() != format.Width || frame.Rows() != format.Height {
			gocv.Resize(frame, &resized, size, 0, 0, gocv.InterpolationLinear)
			src = resized
		}

		raw, err := convert(src, &converted, format.Encoding)
		if err != nil {
			h.driver.logger.Warn("frame conversion failed", "error", err)
			continue
		}
		h.publish(sink, raw, format)
	}
}

func (h *Handle) publish(sink capture.FrameSink, raw []byte, format capture.StreamFormat) {
	data := h.buffer(len(raw))
	copy(data, raw)

	planes, err := Planes(data, format)
	if err != nil {
		h.pool.Put(&data)
		h.driver.logger.Warn("frame layout mismatch", "error", err)
		return
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	sink.Publish(capture.NewFrameBuffer(seq, time.Now(), planes, func() {
		h.pool.Put(&data)
	}))
}

func (h *Handle) buffer(n int) []byte {
	if p, ok := h.pool.Get().(*[]byte); ok && cap(*p) >= n {
		return (*p)[:n]
	}
	return make([]byte, n)
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	if h.closed || h.reported {
		h.mu.Unlock()
		return
	}
	h.reported = true
	h.mu.Unlock()

	h.driver.logger.Error("device failed", "device", h.id.String(), "error", err)
	h.cb.Error(err)
}

// Close implements capture.Handle. It waits for the read loop to exit.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.stop)
	h.mu.Unlock()

	h.wg.Wait()
	h.driver.logger.Info("device closed", "device", h.id.String())
	return h.vc.Close()
}
