package cvdevice

import (
	"fmt"

	"github.com/teslashibe/go-arx/pkg/capture"
	"gocv.io/x/gocv"
)

// Supported reports whether the driver can produce frames in enc.
func Supported(enc capture.PixelEncoding) bool {
	return enc.PlaneCount() > 0
}

func needsEvenSize(enc capture.PixelEncoding) bool {
	return enc.PlaneCount() > 1
}

// bytesPerPixel is the packed pixel size of single-plane encodings.
func bytesPerPixel(enc capture.PixelEncoding) int {
	switch enc {
	case capture.EncodingRGBA:
		return 4
	case capture.EncodingRGB565:
		return 2
	default:
		return 1
	}
}

// convert turns a BGR frame into enc's tightly packed byte layout. dst is
// scratch space reused across frames.
func convert(bgr gocv.Mat, dst *gocv.Mat, enc capture.PixelEncoding) ([]byte, error) {
	var code gocv.ColorConversionCode
	switch enc {
	case capture.EncodingMono:
		code = gocv.ColorBGRToGray
	case capture.EncodingRGBA:
		code = gocv.ColorBGRToRGBA
	case capture.EncodingRGB565:
		code = gocv.ColorBGRToBGR565
	case capture.EncodingYUV420, capture.EncodingNV21, capture.EncodingNV12:
		code = gocv.ColorBGRToYUVI420
	default:
		return nil, fmt.Errorf("encoding %s not supported", enc)
	}

	gocv.CvtColor(bgr, dst, code)
	if dst.Empty() {
		return nil, fmt.Errorf("convert to %s failed", enc)
	}
	raw := dst.ToBytes()

	switch enc {
	case capture.EncodingNV21:
		return interleaveChroma(raw, bgr.Cols(), bgr.Rows(), true)
	case capture.EncodingNV12:
		return interleaveChroma(raw, bgr.Cols(), bgr.Rows(), false)
	}
	return raw, nil
}

// interleaveChroma rewrites an I420 buffer (Y, U, V planes) as semi-planar
// Y followed by interleaved VU (vFirst) or UV.
func interleaveChroma(i420 []byte, width, height int, vFirst bool) ([]byte, error) {
	ySize := width * height
	cSize := (width / 2) * (height / 2)
	if len(i420) < ySize+2*cSize {
		return nil, fmt.Errorf("I420 buffer holds %d bytes, need %d", len(i420), ySize+2*cSize)
	}

	out := make([]byte, ySize+2*cSize)
	copy(out, i420[:ySize])
	u := i420[ySize : ySize+cSize]
	v := i420[ySize+cSize : ySize+2*cSize]
	first, second := u, v
	if vFirst {
		first, second = v, u
	}
	for i := 0; i < cSize; i++ {
		out[ySize+2*i] = first[i]
		out[ySize+2*i+1] = second[i]
	}
	return out, nil
}

// Planes slices a packed frame into the plane layout of format. The planes
// alias data.
func Planes(data []byte, format capture.StreamFormat) ([]capture.Plane, error) {
	w, h := format.Width, format.Height
	cw, ch := w/2, h/2

	var sizes []int
	switch format.Encoding {
	case capture.EncodingYUV420:
		sizes = []int{w * h, cw * ch, cw * ch}
	case capture.EncodingNV21, capture.EncodingNV12:
		sizes = []int{w * h, cw * ch * 2}
	default:
		sizes = []int{w * h * bytesPerPixel(format.Encoding)}
	}

	total := 0
	for _, n := range sizes {
		total += n
	}
	if len(data) != total {
		return nil, fmt.Errorf("%s frame holds %d bytes, want %d", format, len(data), total)
	}

	planes := make([]capture.Plane, 0, len(sizes))
	off := 0
	for i, n := range sizes {
		p := capture.Plane{Data: data[off : off+n : off+n]}
		switch {
		case len(sizes) == 1:
			bpp := bytesPerPixel(format.Encoding)
			p.PixelStride, p.RowStride = bpp, w*bpp
		case i == 0:
			p.PixelStride, p.RowStride = 1, w
		case len(sizes) == 2:
			p.PixelStride, p.RowStride = 2, cw*2
		default:
			p.PixelStride, p.RowStride = 1, cw
		}
		planes = append(planes, p)
		off += n
	}
	return planes, nil
}
