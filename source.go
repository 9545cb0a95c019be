package mediasink

import (
	"context"
	"errors"
	"io"
)

// SourceType identifies the kind of frame producer behind a pipeline.
type SourceType int

const (
	SourceTypeUnknown     SourceType = iota
	SourceTypeTestPattern            // Synthetic test pattern generator
	SourceTypeFile                   // Y4M or still image file
	SourceTypeRTP                    // Plain RTP over UDP
	SourceTypeRTMP                   // RTMP publisher (ingest)
	SourceTypeWHEP                   // WebRTC-HTTP egress
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeTestPattern:
		return "TestPattern"
	case SourceTypeFile:
		return "File"
	case SourceTypeRTP:
		return "RTP"
	case SourceTypeRTMP:
		return "RTMP"
	case SourceTypeWHEP:
		return "WHEP"
	default:
		return "Unknown"
	}
}

// SourceConfig describes what a source produces.
type SourceConfig struct {
	Width      int         // Frame width in pixels, 0 if not known until the first frame
	Height     int         // Frame height in pixels
	Framerate  Framerate   // Nominal rate; unbounded sources run as fast as they are read
	Format     PixelFormat // Pixel format of produced frames
	SourceType SourceType  // Type of source
}

// VideoSource produces raw video frames for a pipeline graph.
type VideoSource interface {
	io.Closer

	// Start begins capture/generation. A stopped source may be started again.
	Start(ctx context.Context) error

	// Stop halts capture/generation.
	Stop() error

	// ReadFrame reads the next frame (blocking). The returned frame is valid
	// until the next ReadFrame call or Close. io.EOF marks the end of the
	// stream.
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// Config returns the source configuration.
	Config() SourceConfig
}

// errSourceNotStarted is returned by ReadFrame before Start.
var errSourceNotStarted = errors.New("source not started")
