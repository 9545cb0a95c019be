// Core frame, sample and mapping types used across the mediasink package.
package mediasink

import (
	"fmt"
	"sync/atomic"
	"time"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGBA32:
		return "RGBA"
	case PixelFormatBGRA32:
		return "BGRA"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// VideoFrame represents a raw video frame in system memory.
// The Data slices may point to external memory (e.g., C memory via FFI).
// Callers must ensure the data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data      [][]byte    // Plane data (1-3 planes depending on format)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Presentation timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewRGBAFrame allocates a tightly packed RGBA frame.
func NewRGBAFrame(width, height int) *VideoFrame {
	return &VideoFrame{
		Data:   [][]byte{make([]byte, width*height*4)},
		Stride: []int{width * 4},
		Width:  width,
		Height: height,
		Format: PixelFormatRGBA32,
	}
}

// MaxFrameDimension bounds the width and height of frames read from files
// and streams.
const MaxFrameDimension = 16384

// checkFrameSize rejects sizes that are empty or larger than
// MaxFrameDimension on either side.
func checkFrameSize(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxFrameDimension || height > MaxFrameDimension {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return nil
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := ((width + 1) / 2) * ((height + 1) / 2)
	return ySize + uvSize*2
}

// FrameType indicates whether an encoded frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds a compressed video access unit received from a remote
// stream.
type EncodedFrame struct {
	Data      []byte    // Encoded bitstream data
	FrameType FrameType // Key or delta frame
	Timestamp uint32    // RTP timestamp (90kHz clock for video)
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// VideoInfo is the negotiated description of the frames a pipeline delivers.
type VideoInfo struct {
	Width     int
	Height    int
	Format    PixelFormat
	Framerate Framerate
}

// MapFlags selects how a sample is mapped.
type MapFlags uint8

const (
	MapRead MapFlags = 1 << iota
	MapWrite
	MapGL // map to GL texture ids instead of bytes
)

// Memory is one plane of a buffer: either a GL texture or bytes in
// system memory.
type Memory struct {
	texture uint32
	data    []byte
	mapped  atomic.Int32
}

// NewGLMemory wraps a texture id.
func NewGLMemory(texture uint32) *Memory {
	return &Memory{texture: texture}
}

// NewSystemMemory wraps bytes that were never uploaded to the GPU.
func NewSystemMemory(data []byte) *Memory {
	return &Memory{data: data}
}

// IsGL reports whether the memory lives in a GL texture.
func (m *Memory) IsGL() bool { return m.texture != 0 }

// Buffer is one frame worth of memory blocks, one per plane.
type Buffer struct {
	Memory   []*Memory
	PTS      time.Duration
	Duration time.Duration
}

// Sample pairs a buffer with the video info it was negotiated under.
// Samples handed to a DrawFunc are valid only for the duration of the call.
type Sample struct {
	Buffer *Buffer
	Info   VideoInfo
}

// VideoFrameMap is a mapped view of a sample. Unmap must be called once the
// caller is done with it.
type VideoFrameMap struct {
	Info     VideoInfo
	flags    MapFlags
	textures []uint32
	data     [][]byte
	mems     []*Memory
}

// MapVideoFrame maps every plane of s according to flags. With MapGL each
// plane must be GL memory.
func MapVideoFrame(s *Sample, flags MapFlags) (*VideoFrameMap, error) {
	if s == nil || s.Buffer == nil {
		return nil, errorf("map", KindFrameMapFailed, "sample has no buffer")
	}
	planes := s.Info.Format.PlaneCount()
	if planes == 0 || len(s.Buffer.Memory) < planes {
		return nil, errorf("map", KindFrameMapFailed, "buffer has %d memories, %s needs %d",
			len(s.Buffer.Memory), s.Info.Format, planes)
	}

	m := &VideoFrameMap{Info: s.Info, flags: flags, mems: s.Buffer.Memory[:planes]}
	for i, mem := range m.mems {
		if mem == nil {
			return nil, errorf("map", KindFrameMapFailed, "plane %d has no memory", i)
		}
		if flags&MapGL != 0 && !mem.IsGL() {
			return nil, errorf("map", KindFrameMapFailed, "plane %d is not GL memory", i)
		}
	}
	for _, mem := range m.mems {
		mem.mapped.Add(1)
		m.textures = append(m.textures, mem.texture)
		m.data = append(m.data, mem.data)
	}
	return m, nil
}

// Texture returns the texture id backing plane, or 0 if the frame was not
// mapped with MapGL.
func (m *VideoFrameMap) Texture(plane int) uint32 {
	if m.flags&MapGL == 0 || plane < 0 || plane >= len(m.textures) {
		return 0
	}
	return m.textures[plane]
}

// Plane returns the bytes of plane for system-memory maps.
func (m *VideoFrameMap) Plane(plane int) []byte {
	if m.flags&MapGL != 0 || plane < 0 || plane >= len(m.data) {
		return nil
	}
	return m.data[plane]
}

// Unmap releases the mapping. Calling it twice is a no-op.
func (m *VideoFrameMap) Unmap() {
	for _, mem := range m.mems {
		mem.mapped.Add(-1)
	}
	m.mems = nil
	m.textures = nil
	m.data = nil
}

// mappedCount reports outstanding maps; used to check map/unmap pairing.
func (m *Memory) mappedCount() int32 { return m.mapped.Load() }
