package detection

import (
	"fmt"

	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/tracking"
	"gocv.io/x/gocv"
)

// Convertible reports whether FrameToMat accepts frames in enc.
func Convertible(enc capture.PixelEncoding) bool {
	switch enc {
	case capture.EncodingRGBA, capture.EncodingMono,
		capture.EncodingNV21, capture.EncodingNV12, capture.EncodingYUV420:
		return true
	default:
		return false
	}
}

// FrameToMat converts a frame to a BGR Mat. The result owns its memory, so
// it stays valid after the frame is released. Callers must Close it.
func FrameToMat(buf *capture.FrameBuffer, format capture.StreamFormat) (gocv.Mat, error) {
	if err := buf.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	if len(buf.Planes) < format.Encoding.PlaneCount() {
		return gocv.NewMat(), fmt.Errorf("%s frame has %d planes, want %d",
			format.Encoding, len(buf.Planes), format.Encoding.PlaneCount())
	}

	w, h := format.Width, format.Height
	if format.Encoding.PlaneCount() > 1 && (w%2 != 0 || h%2 != 0) {
		return gocv.NewMat(), fmt.Errorf("%s needs even dimensions, got %dx%d", format.Encoding, w, h)
	}
	var (
		raw  []byte
		rows = h
		typ  = gocv.MatTypeCV8UC1
		code gocv.ColorConversionCode
		err  error
	)

	switch format.Encoding {
	case capture.EncodingRGBA:
		raw, err = packPlane(buf.Planes[0], w, h, 4)
		typ = gocv.MatTypeCV8UC4
		code = gocv.ColorRGBAToBGR
	case capture.EncodingMono:
		raw, err = packPlane(buf.Planes[0], w, h, 1)
		code = gocv.ColorGrayToBGR
	case capture.EncodingNV21, capture.EncodingNV12:
		raw, err = packSemiPlanar(buf.Planes, w, h)
		rows = h * 3 / 2
		code = gocv.ColorYUVToBGRNV21
		if format.Encoding == capture.EncodingNV12 {
			code = gocv.ColorYUVToBGRNV12
		}
	case capture.EncodingYUV420:
		raw, err = packPlanar(buf.Planes, w, h)
		rows = h * 3 / 2
		code = gocv.ColorYUVToBGRIYUV
	default:
		return gocv.NewMat(), fmt.Errorf("%w: %s", tracking.ErrUnsupportedEncoding, format.Encoding)
	}
	if err != nil {
		return gocv.NewMat(), err
	}

	src, err := gocv.NewMatFromBytes(rows, w, typ, raw)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("convert %s frame failed", format.Encoding)
	}
	return dst, nil
}

// packPlane copies a plane into a tightly packed width*bpp x height buffer.
func packPlane(p capture.Plane, width, height, bpp int) ([]byte, error) {
	rowBytes := width * bpp
	pixelStride := p.PixelStride
	if pixelStride == 0 {
		pixelStride = bpp
	}
	rowStride := p.RowStride
	if rowStride == 0 {
		rowStride = width * pixelStride
	}

	need := (height-1)*rowStride + (width-1)*pixelStride + bpp
	if height <= 0 || width <= 0 || len(p.Data) < need {
		return nil, fmt.Errorf("plane holds %d bytes, need %d for %dx%d", len(p.Data), need, width, height)
	}

	out := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		src := p.Data[y*rowStride:]
		dst := out[y*rowBytes : (y+1)*rowBytes]
		if pixelStride == bpp {
			copy(dst, src[:rowBytes])
			continue
		}
		for x := 0; x < width; x++ {
			copy(dst[x*bpp:(x+1)*bpp], src[x*pixelStride:x*pixelStride+bpp])
		}
	}
	return out, nil
}

// packSemiPlanar lays out Y followed by the interleaved chroma plane.
func packSemiPlanar(planes []capture.Plane, width, height int) ([]byte, error) {
	y, err := packPlane(planes[0], width, height, 1)
	if err != nil {
		return nil, fmt.Errorf("luma: %w", err)
	}
	chroma := planes[1]
	if chroma.PixelStride == 0 {
		chroma.PixelStride = 2
	}
	uv, err := packPlane(chroma, (width+1)/2, (height+1)/2, 2)
	if err != nil {
		return nil, fmt.Errorf("chroma: %w", err)
	}
	return append(y, uv...), nil
}

// packPlanar lays out Y, U and V one after another (I420).
func packPlanar(planes []capture.Plane, width, height int) ([]byte, error) {
	out, err := packPlane(planes[0], width, height, 1)
	if err != nil {
		return nil, fmt.Errorf("luma: %w", err)
	}
	for i, p := range planes[1:3] {
		c, err := packPlane(p, (width+1)/2, (height+1)/2, 1)
		if err != nil {
			return nil, fmt.Errorf("chroma %d: %w", i+1, err)
		}
		out = append(out, c...)
	}
	return out, nil
}
