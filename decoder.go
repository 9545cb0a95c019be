package mediasink

import (
	"fmt"
	"io"
	"sync"
)

// VideoDecoder turns encoded access units into raw frames.
type VideoDecoder interface {
	io.Closer

	// Decode decodes one access unit. It returns (nil, nil) while the
	// decoder is buffering. The frame is valid until the next call.
	Decode(frame *EncodedFrame) (*VideoFrame, error)

	// Reset drops decoder state, e.g. after packet loss.
	Reset() error

	// Codec returns the codec this decoder handles.
	Codec() VideoCodec
}

// VideoDecoderConfig configures a decoder.
type VideoDecoderConfig struct {
	Codec   VideoCodec
	Threads int // 0 = implementation default
}

// VideoDecoderFactory creates a decoder.
type VideoDecoderFactory func(config VideoDecoderConfig) (VideoDecoder, error)

type decoderRegistry struct {
	factories map[VideoCodec]VideoDecoderFactory
	mu        sync.RWMutex
}

var globalDecoderRegistry = &decoderRegistry{
	factories: make(map[VideoCodec]VideoDecoderFactory),
}

// RegisterVideoDecoder installs a decoder factory for codec, replacing any
// previous one.
func RegisterVideoDecoder(codec VideoCodec, factory VideoDecoderFactory) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()
	globalDecoderRegistry.factories[codec] = factory
}

// NewVideoDecoder creates a decoder for config.Codec.
func NewVideoDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	globalDecoderRegistry.mu.RLock()
	factory, ok := globalDecoderRegistry.factories[config.Codec]
	globalDecoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no decoder registered for %s", config.Codec)
	}
	return factory(config)
}

// IsDecoderAvailable reports whether a decoder factory exists for codec.
func IsDecoderAvailable(codec VideoCodec) bool {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()
	_, ok := globalDecoderRegistry.factories[codec]
	return ok
}

// copyI420 copies decoder output planes into frame, allocating when the
// size changes. Plane pointers come from native memory that is only valid
// until the next decode call.
func copyI420(frame *VideoFrame, w, h int, y, u, v []byte, yStride, uvStride int) *VideoFrame {
	cw, ch := (w+1)/2, (h+1)/2
	if frame == nil || frame.Width != w || frame.Height != h {
		buf := make([]byte, I420Size(w, h))
		ySize := w * h
		frame = &VideoFrame{
			Data:   [][]byte{buf[:ySize], buf[ySize : ySize+cw*ch], buf[ySize+cw*ch:]},
			Stride: []int{w, cw, cw},
			Width:  w,
			Height: h,
			Format: PixelFormatI420,
		}
	}
	for row := 0; row < h; row++ {
		copy(frame.Data[0][row*w:row*w+w], y[row*yStride:])
	}
	for row := 0; row < ch; row++ {
		copy(frame.Data[1][row*cw:row*cw+cw], u[row*uvStride:])
		copy(frame.Data[2][row*cw:row*cw+cw], v[row*uvStride:])
	}
	return frame
}
