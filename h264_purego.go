//go:build (darwin || linux) && !noh264

// H.264 decoding via libmedia_h264, loaded at runtime with purego.

package mediasink

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaH264Once    sync.Once
	mediaH264Handle  uintptr
	mediaH264InitErr error
)

// libmedia_h264 decoder entry points
var (
	mediaH264DecoderCreate        func(threads int32) uint64
	mediaH264DecoderDecode        func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	mediaH264DecoderGetDimensions func(decoder uint64, width, height uintptr)
	mediaH264DecoderReset         func(decoder uint64) int32
	mediaH264DecoderDestroy       func(decoder uint64)

	mediaH264GetError         func() uintptr
	mediaH264DecoderAvailable func() int32
)

const mediaH264OK = 0

// mediaH264DecodeResult holds the decoder's output parameters. It is
// heap-allocated so the GC cannot move it during the C call.
type mediaH264DecodeResult struct {
	YPtr     uintptr
	UPtr     uintptr
	VPtr     uintptr
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
}

func loadMediaH264() error {
	mediaH264Once.Do(func() {
		mediaH264InitErr = loadMediaH264Lib()
	})
	return mediaH264InitErr
}

func loadMediaH264Lib() error {
	var lastErr error
	for _, path := range nativeLibPaths(sharedLibName("libmedia_h264"), "MEDIA_H264_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaH264Handle = handle
		if err := loadMediaH264Symbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_h264: %w", lastErr)
	}
	return errors.New("libmedia_h264 not found in any standard location")
}

func loadMediaH264Symbols() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load libmedia_h264 symbol: %v", r)
		}
	}()
	purego.RegisterLibFunc(&mediaH264DecoderCreate, mediaH264Handle, "media_h264_decoder_create")
	purego.RegisterLibFunc(&mediaH264DecoderDecode, mediaH264Handle, "media_h264_decoder_decode")
	purego.RegisterLibFunc(&mediaH264DecoderGetDimensions, mediaH264Handle, "media_h264_decoder_get_dimensions")
	purego.RegisterLibFunc(&mediaH264DecoderReset, mediaH264Handle, "media_h264_decoder_reset")
	purego.RegisterLibFunc(&mediaH264DecoderDestroy, mediaH264Handle, "media_h264_decoder_destroy")
	purego.RegisterLibFunc(&mediaH264GetError, mediaH264Handle, "media_h264_get_error")
	purego.RegisterLibFunc(&mediaH264DecoderAvailable, mediaH264Handle, "media_h264_decoder_available")
	return nil
}

// IsH264DecoderAvailable checks if the H.264 decoder can be loaded.
func IsH264DecoderAvailable() bool {
	if loadMediaH264() != nil {
		return false
	}
	return mediaH264DecoderAvailable() != 0
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// H264Decoder implements VideoDecoder using libmedia_h264.
type H264Decoder struct {
	handle uint64
	out    *mediaH264DecodeResult
	frame  *VideoFrame
	mu     sync.Mutex
}

// NewH264Decoder creates a new H.264 decoder.
func NewH264Decoder(config VideoDecoderConfig) (*H264Decoder, error) {
	if err := loadMediaH264(); err != nil {
		return nil, fmt.Errorf("H.264 decoder not available: %w", err)
	}
	if mediaH264DecoderAvailable() == 0 {
		return nil, errors.New("H.264 decoder not available")
	}

	threads := int32(config.Threads)
	if threads <= 0 {
		threads = 2
	}
	handle := mediaH264DecoderCreate(threads)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 decoder: %s", getH264Error())
	}
	return &H264Decoder{handle: handle, out: &mediaH264DecodeResult{}}, nil
}

// Decode implements VideoDecoder. Data is an Annex-B access unit.
func (d *H264Decoder) Decode(encoded *EncodedFrame) (*VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, fmt.Errorf("decoder not initialized")
	}
	if len(encoded.Data) == 0 {
		return nil, fmt.Errorf("empty encoded data")
	}

	out := d.out
	result := mediaH264DecoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&encoded.Data[0])),
		int32(len(encoded.Data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	runtime.KeepAlive(encoded.Data)
	runtime.KeepAlive(out)

	if result < 0 {
		return nil, fmt.Errorf("decode failed: %s", getH264Error())
	}
	if result == 0 {
		return nil, nil
	}

	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, out.Width, out.Height)
	}

	w, h := int(out.Width), int(out.Height)
	ch := (h + 1) / 2
	y := unsafe.Slice((*byte)(unsafe.Pointer(out.YPtr)), int(out.YStride)*h)
	u := unsafe.Slice((*byte)(unsafe.Pointer(out.UPtr)), int(out.UVStride)*ch)
	v := unsafe.Slice((*byte)(unsafe.Pointer(out.VPtr)), int(out.UVStride)*ch)

	d.frame = copyI420(d.frame, w, h, y, u, v, int(out.YStride), int(out.UVStride))
	d.frame.Timestamp = int64(encoded.Timestamp) * 1000000 / 90
	return d.frame, nil
}

// Dimensions returns the size of the last decoded picture.
func (d *H264Decoder) Dimensions() (width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == 0 {
		return 0, 0
	}
	var w, h int32
	mediaH264DecoderGetDimensions(d.handle, uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)))
	return int(w), int(h)
}

// Reset implements VideoDecoder.
func (d *H264Decoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return fmt.Errorf("decoder not initialized")
	}
	if mediaH264DecoderReset(d.handle) != mediaH264OK {
		return fmt.Errorf("failed to reset decoder: %s", getH264Error())
	}
	return nil
}

// Codec implements VideoDecoder.
func (d *H264Decoder) Codec() VideoCodec {
	return VideoCodecH264
}

// Close implements VideoDecoder.
func (d *H264Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		mediaH264DecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	RegisterVideoDecoder(VideoCodecH264, func(config VideoDecoderConfig) (VideoDecoder, error) {
		return NewH264Decoder(config)
	})
}
