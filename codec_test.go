package mediasink

import (
	"bytes"
	"testing"
)

func TestVideoCodec_String(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
		mime  string
	}{
		{VideoCodecVP8, "VP8", "video/VP8"},
		{VideoCodecVP9, "VP9", "video/VP9"},
		{VideoCodecH264, "H264", "video/H264"},
		{VideoCodecUnknown, "Unknown", ""},
		{VideoCodec(99), "Unknown", ""},
	}

	for _, tt := range tests {
		if got := tt.codec.String(); got != tt.want {
			t.Errorf("String() = %v, want %v", got, tt.want)
		}
		if got := tt.codec.MimeType(); got != tt.mime {
			t.Errorf("%v.MimeType() = %q, want %q", tt.codec, got, tt.mime)
		}
		if tt.codec.ClockRate() != 90000 {
			t.Errorf("%v.ClockRate() = %d", tt.codec, tt.codec.ClockRate())
		}
	}
}

func TestParseVideoCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    VideoCodec
		wantErr bool
	}{
		{"vp8", VideoCodecVP8, false},
		{"VP9", VideoCodecVP9, false},
		{"video/H264", VideoCodecH264, false},
		{"Video/vp8", VideoCodecVP8, false},
		{"avc", VideoCodecH264, false},
		{"av1", VideoCodecUnknown, true},
		{"", VideoCodecUnknown, true},
	}

	for _, tt := range tests {
		got, err := ParseVideoCodec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVideoCodec(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseVideoCodec(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewDepacketizer(t *testing.T) {
	for _, c := range []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecH264} {
		if d, err := newDepacketizer(c); err != nil || d == nil {
			t.Errorf("newDepacketizer(%v) = %v, %v", c, d, err)
		}
	}
	if _, err := newDepacketizer(VideoCodecUnknown); err == nil {
		t.Error("depacketizer for unknown codec")
	}
}

func TestDetectFrameType(t *testing.T) {
	tests := []struct {
		name  string
		codec VideoCodec
		data  []byte
		want  FrameType
	}{
		{"vp8 key", VideoCodecVP8, []byte{0x50, 0x2d, 0x01}, FrameTypeKey},
		{"vp8 delta", VideoCodecVP8, []byte{0x31, 0x2d, 0x01}, FrameTypeDelta},
		{"vp9 profile 0 key", VideoCodecVP9, []byte{0x80, 0x49}, FrameTypeKey},
		{"vp9 profile 0 delta", VideoCodecVP9, []byte{0x84}, FrameTypeDelta},
		{"vp9 show existing", VideoCodecVP9, []byte{0x88}, FrameTypeDelta},
		{"vp9 profile 1 key", VideoCodecVP9, []byte{0xa0}, FrameTypeKey},
		{"vp9 profile 3 key", VideoCodecVP9, []byte{0xb0}, FrameTypeKey},
		{"vp9 profile 3 delta", VideoCodecVP9, []byte{0xb2}, FrameTypeDelta},
		{"h264 idr", VideoCodecH264, []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce, 0, 0, 1, 0x65, 0x88}, FrameTypeKey},
		{"h264 non-idr", VideoCodecH264, []byte{0, 0, 0, 1, 0x41, 0x9a}, FrameTypeDelta},
		{"empty", VideoCodecVP8, nil, FrameTypeUnknown},
		{"unknown codec", VideoCodecUnknown, []byte{0}, FrameTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectFrameType(tt.codec, tt.data); got != tt.want {
				t.Errorf("detectFrameType = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitAnnexB(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0xaa, 0, 0, 1, 0x68, 0xbb, 0, 0, 0, 1, 0x65, 0xcc, 0xdd}
	got := splitAnnexB(data)
	want := [][]byte{{0x67, 0xaa}, {0x68, 0xbb}, {0x65, 0xcc, 0xdd}}
	if len(got) != len(want) {
		t.Fatalf("got %d NAL units, want %d: %x", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("nalu %d = %x, want %x", i, got[i], want[i])
		}
	}

	if n := splitAnnexB([]byte{0x65, 0x88}); len(n) != 0 {
		t.Errorf("data without start code split into %d units", len(n))
	}
}
