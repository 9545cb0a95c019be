//go:build (darwin || linux) && !novpx

// VP8/VP9 decoding via libmedia_vpx, loaded at runtime with purego.
//
// Library locations checked (in order):
//   - MEDIA_VPX_LIB_PATH environment variable (full path)
//   - native.library_path from the config
//   - STREAM_SDK_LIB_PATH environment variable
//   - build/ directories next to the executable, working directory and module root
//   - System library paths

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
	mediaVPXOnce    sync.Once
	mediaVPXHandle  uintptr
	mediaVPXInitErr error
)

// libmedia_vpx decoder entry points
var (
	mediaVPXDecoderCreate   func(codec, threads int32) uint64
	mediaVPXDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaVPXDecoderReset    func(decoder uint64) int32
	mediaVPXDecoderDestroy  func(decoder uint64)
	mediaVPXGetError        func() uintptr
	mediaVPXCodecAvailable  func(codec int32) int32
)

// mediaVPXDecodeResult matches media_vpx_decode_result_t in C.
// It must be heap-allocated for purego to work correctly on arm64.
type mediaVPXDecodeResult struct {
	YPtr     uint64
	UPtr     uint64
	VPtr     uint64
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
	Result   int32 // 1=decoded, 0=buffering, <0=error
	Reserved int32
}

const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXOK = 0
)

func loadMediaVPX() error {
	mediaVPXOnce.Do(func() {
		mediaVPXInitErr = loadMediaVPXLib()
	})
	return mediaVPXInitErr
}

func loadMediaVPXLib() error {
	var lastErr error
	for _, path := range nativeLibPaths(sharedLibName("libmedia_vpx"), "MEDIA_VPX_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaVPXHandle = handle
		if err := loadMediaVPXSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_vpx: %w", lastErr)
	}
	return errors.New("libmedia_vpx not found in any standard location")
}

func loadMediaVPXSymbols() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load libmedia_vpx symbol: %v", r)
		}
	}()
	purego.RegisterLibFunc(&mediaVPXDecoderCreate, mediaVPXHandle, "media_vpx_decoder_create")
	purego.RegisterLibFunc(&mediaVPXDecoderDecodeV2, mediaVPXHandle, "media_vpx_decoder_decode_v2")
	purego.RegisterLibFunc(&mediaVPXDecoderReset, mediaVPXHandle, "media_vpx_decoder_reset")
	purego.RegisterLibFunc(&mediaVPXDecoderDestroy, mediaVPXHandle, "media_vpx_decoder_destroy")
	purego.RegisterLibFunc(&mediaVPXGetError, mediaVPXHandle, "media_vpx_get_error")
	purego.RegisterLibFunc(&mediaVPXCodecAvailable, mediaVPXHandle, "media_vpx_codec_available")
	return nil
}

// IsVP8Available checks if the VP8 decoder can be loaded.
func IsVP8Available() bool {
	return loadMediaVPX() == nil && mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0
}

// IsVP9Available checks if the VP9 decoder can be loaded.
func IsVP9Available() bool {
	return loadMediaVPX() == nil && mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// VPXDecoder implements VideoDecoder using libmedia_vpx.
type VPXDecoder struct {
	codec  VideoCodec
	handle uint64
	out    *mediaVPXDecodeResult
	frame  *VideoFrame
	mu     sync.Mutex
}

func newVPXDecoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%s decoder not available: %w", config.Codec, err)
	}

	var codecType int32
	switch config.Codec {
	case VideoCodecVP8:
		codecType = mediaVPXCodecVP8
	case VideoCodecVP9:
		codecType = mediaVPXCodecVP9
	default:
		return nil, fmt.Errorf("unsupported codec: %s", config.Codec)
	}
	if mediaVPXCodecAvailable(codecType) == 0 {
		return nil, fmt.Errorf("%s decoder not available in libmedia_vpx", config.Codec)
	}

	threads := int32(2)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}
	handle := mediaVPXDecoderCreate(codecType, threads)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create %s decoder: %s", config.Codec, getVPXError())
	}
	return &VPXDecoder{codec: config.Codec, handle: handle, out: &mediaVPXDecodeResult{}}, nil
}

// Decode implements VideoDecoder.
func (d *VPXDecoder) Decode(encoded *EncodedFrame) (*VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, fmt.Errorf("decoder closed")
	}
	if len(encoded.Data) == 0 {
		return nil, fmt.Errorf("empty encoded data")
	}

	out := d.out
	result := mediaVPXDecoderDecodeV2(d.handle,
		uintptr(unsafe.Pointer(&encoded.Data[0])), int32(len(encoded.Data)),
		uintptr(unsafe.Pointer(out)))
	runtime.KeepAlive(encoded.Data)
	runtime.KeepAlive(out)

	if result < 0 {
		return nil, fmt.Errorf("%s decode failed: %s", d.codec, getVPXError())
	}
	if result == 0 {
		return nil, nil
	}

	w, h := int(out.Width), int(out.Height)
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return nil, fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d", out.YStride, out.UVStride, w, h)
	}
	ch := (h + 1) / 2
	y := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.YPtr))), int(out.YStride)*h)
	u := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.UPtr))), int(out.UVStride)*ch)
	v := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.VPtr))), int(out.UVStride)*ch)

	d.frame = copyI420(d.frame, w, h, y, u, v, int(out.YStride), int(out.UVStride))
	d.frame.Timestamp = int64(encoded.Timestamp) * 1000000 / 90
	return d.frame, nil
}

// Reset implements VideoDecoder.
func (d *VPXDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == 0 {
		return fmt.Errorf("decoder closed")
	}
	if mediaVPXDecoderReset(d.handle) != mediaVPXOK {
		return fmt.Errorf("failed to reset decoder: %s", getVPXError())
	}
	return nil
}

// Codec implements VideoDecoder.
func (d *VPXDecoder) Codec() VideoCodec { return d.codec }

// Close implements VideoDecoder.
func (d *VPXDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaVPXDecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	factory := func(config VideoDecoderConfig) (VideoDecoder, error) {
		return newVPXDecoder(config)
	}
	RegisterVideoDecoder(VideoCodecVP8, factory)
	RegisterVideoDecoder(VideoCodecVP9, factory)
}
