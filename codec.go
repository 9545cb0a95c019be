package mediasink

import (
	"fmt"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VideoCodec identifies the compression format of a remote stream.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// The actual payload type is negotiated via SDP or given in the locator.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	default:
		return 96
	}
}

// ParseVideoCodec accepts a codec name ("vp8", "H264") or MIME type
// ("video/VP9").
func ParseVideoCodec(s string) (VideoCodec, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.ToLower(s), "video/"))
	switch name {
	case "vp8":
		return VideoCodecVP8, nil
	case "vp9":
		return VideoCodecVP9, nil
	case "h264", "avc":
		return VideoCodecH264, nil
	default:
		return VideoCodecUnknown, fmt.Errorf("unsupported video codec: %q", s)
	}
}

// newDepacketizer returns the pion depacketizer for c.
func newDepacketizer(c VideoCodec) (rtp.Depacketizer, error) {
	switch c {
	case VideoCodecVP8:
		return &codecs.VP8Packet{}, nil
	case VideoCodecVP9:
		return &codecs.VP9Packet{}, nil
	case VideoCodecH264:
		return &codecs.H264Packet{}, nil
	default:
		return nil, fmt.Errorf("no depacketizer for %s", c)
	}
}

// detectFrameType inspects the start of an access unit produced by the
// depacketizer for c.
func detectFrameType(c VideoCodec, data []byte) FrameType {
	if len(data) == 0 {
		return FrameTypeUnknown
	}
	switch c {
	case VideoCodecVP8:
		// Bit 0 of the first byte of the VP8 payload header: 0 = key frame.
		if data[0]&0x01 == 0 {
			return FrameTypeKey
		}
		return FrameTypeDelta
	case VideoCodecVP9:
		// Uncompressed header, MSB first: frame_marker(2) profile_low(1)
		// profile_high(1) [reserved(1) for profile 3] show_existing(1) frame_type(1)
		b := data[0]
		profile := (b>>5)&1 | ((b>>4)&1)<<1
		pos := uint(3)
		if profile == 3 {
			pos = 2
		}
		if (b>>pos)&1 == 1 || (b>>(pos-1))&1 == 1 {
			return FrameTypeDelta
		}
		return FrameTypeKey
	case VideoCodecH264:
		for _, nalu := range splitAnnexB(data) {
			if len(nalu) > 0 && nalu[0]&0x1F == 5 {
				return FrameTypeKey
			}
		}
		return FrameTypeDelta
	}
	return FrameTypeUnknown
}

// splitAnnexB splits a byte stream on 3- and 4-byte start codes.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && data[end-1] == 0 {
					end--
				}
				nalus = append(nalus, data[start:end])
			}
			start = i + 3
			i += 2
		}
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}
