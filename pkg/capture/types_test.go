package capture

import (
	"testing"
	"time"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"640x480", 640, 480, false},
		{" 1280X720 ", 1280, 720, false},
		{"1920x1080", 1920, 1080, false},
		{"640", 0, 0, true},
		{"0x480", 0, 0, true},
		{"axb", 0, 0, true},
		{"-1x5", 0, 0, true},
	}

	for _, tt := range tests {
		w, h, err := ParseResolution(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseResolution(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseResolution(%q) failed: %v", tt.in, err)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("ParseResolution(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}

func TestParsePixelEncoding(t *testing.T) {
	for _, e := range Encodings() {
		got, err := ParsePixelEncoding(string(e))
		if err != nil {
			t.Errorf("ParsePixelEncoding(%q) failed: %v", e, err)
		}
		if got != e {
			t.Errorf("ParsePixelEncoding(%q) = %q", e, got)
		}
	}

	if got, err := ParsePixelEncoding("rgba"); err != nil || got != EncodingRGBA {
		t.Errorf("ParsePixelEncoding(rgba) = %q, %v", got, err)
	}
	if _, err := ParsePixelEncoding("H264"); err == nil {
		t.Error("Expected error for H264")
	}
}

func TestPixelEncoding_PlaneCount(t *testing.T) {
	tests := map[PixelEncoding]int{
		EncodingYUV420: 3,
		EncodingNV21:   2,
		EncodingNV12:   2,
		EncodingRGBA:   1,
		EncodingRGB565: 1,
		EncodingMono:   1,
		"bogus":        0,
	}
	for enc, want := range tests {
		if got := enc.PlaneCount(); got != want {
			t.Errorf("%s.PlaneCount() = %d, want %d", enc, got, want)
		}
	}
}

func TestStreamFormat_Validate(t *testing.T) {
	valid := StreamFormat{Width: 640, Height: 480, Encoding: EncodingYUV420}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if got := valid.String(); got != "640x480 YUV_420_888" {
		t.Errorf("String() = %q", got)
	}

	bad := []StreamFormat{
		{Width: 0, Height: 480, Encoding: EncodingRGBA},
		{Width: 640, Height: -1, Encoding: EncodingRGBA},
		{Width: 640, Height: 480, Encoding: "JPEG"},
	}
	for _, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", f)
		}
	}
}

func TestParseFacing(t *testing.T) {
	for _, s := range []string{"", "back", "rear", "Environment"} {
		if f, err := ParseFacing(s); err != nil || f != FacingEnvironment {
			t.Errorf("ParseFacing(%q) = %v, %v", s, f, err)
		}
	}
	if f, err := ParseFacing("front"); err != nil || f != FacingUser {
		t.Errorf("ParseFacing(front) = %v, %v", f, err)
	}
	if _, err := ParseFacing("sideways"); err == nil {
		t.Error("Expected error for sideways")
	}

	id := DeviceIdentity{Index: 1, Facing: FacingUser}
	if id.String() != "1/user" {
		t.Errorf("DeviceIdentity.String() = %q", id.String())
	}
}

func TestFrameBuffer_ReleaseOnce(t *testing.T) {
	calls := 0
	buf := NewFrameBuffer(7, time.Now(), []Plane{{Data: make([]byte, 4)}}, func() { calls++ })

	if err := buf.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	buf.Release()
	buf.Release()
	if calls != 1 {
		t.Errorf("Expected release to run once, ran %d times", calls)
	}

	var nilBuf *FrameBuffer
	nilBuf.Release()
}

func TestFrameBuffer_ValidatePlanes(t *testing.T) {
	if err := NewFrameBuffer(1, time.Now(), nil, nil).Validate(); err == nil {
		t.Error("Expected error for zero planes")
	}
	if err := NewFrameBuffer(1, time.Now(), make([]Plane, MaxPlanes+1), nil).Validate(); err == nil {
		t.Error("Expected error for too many planes")
	}
}
