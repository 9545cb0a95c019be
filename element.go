package mediasink

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DrawFunc receives each frame on the streaming goroutine. The sample is
// valid only for the duration of the call. It returns false when the frame
// was dropped.
type DrawFunc func(sample *Sample) bool

// ElementStats counts frames passing through a PresentationElement.
type ElementStats struct {
	FramesReceived uint64
	FramesUploaded uint64
	FramesDrawn    uint64
	FramesDropped  uint64
	UploadErrors   uint64
}

// PresentationElement is the terminal element of a pipeline graph. It
// uploads RGBA frames into textures through a context shared with the host
// and hands them to the draw callback.
//
// When no shared context can be created the element falls back to system
// memory samples; a draw callback that requires GL memory drops them.
type PresentationElement struct {
	name     string
	platform Platform
	config   *Config
	caps     Caps
	info     VideoInfo

	mu       sync.Mutex
	resolver ContextResolver
	draw     DrawFunc
	display  Display
	appCtx   GLContext
	shared   SharedContext
	textures []uint32
	next     int
	scratch  []byte
	started  bool

	received atomic.Uint64
	uploaded atomic.Uint64
	drawn    atomic.Uint64
	dropped  atomic.Uint64
	upErrors atomic.Uint64
}

// NewPresentationElement creates an element accepting caps. platform may be
// nil, in which case frames are always delivered in system memory.
func NewPresentationElement(name string, platform Platform, caps Caps, config *Config) *PresentationElement {
	if config == nil {
		config = DefaultConfig()
	}
	return &PresentationElement{
		name:     name,
		platform: platform,
		config:   config,
		caps:     caps,
		info:     caps.VideoInfo(),
	}
}

// Name returns the element's name.
func (e *PresentationElement) Name() string { return e.name }

// Caps returns the caps the element was negotiated with.
func (e *PresentationElement) Caps() Caps { return e.caps }

// Config returns the settings the element was created with. Builders read
// scaling, decoder and network settings from it.
func (e *PresentationElement) Config() *Config { return e.config }

// SetContextResolver installs the object answering display and app-context
// queries. It is consulted when the element leaves StateNull.
func (e *PresentationElement) SetContextResolver(r ContextResolver) {
	e.mu.Lock()
	e.resolver = r
	e.mu.Unlock()
}

// OnDraw registers the draw callback, replacing any previous one.
func (e *PresentationElement) OnDraw(fn DrawFunc) {
	e.mu.Lock()
	e.draw = fn
	e.mu.Unlock()
}

// UsesGLMemory reports whether frames are currently uploaded to textures.
func (e *PresentationElement) UsesGLMemory() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shared != nil
}

// Stats returns a snapshot of the element's counters.
func (e *PresentationElement) Stats() ElementStats {
	return ElementStats{
		FramesReceived: e.received.Load(),
		FramesUploaded: e.uploaded.Load(),
		FramesDrawn:    e.drawn.Load(),
		FramesDropped:  e.dropped.Load(),
		UploadErrors:   e.upErrors.Load(),
	}
}

// start resolves the display and app context and creates the shared
// upload context.
func (e *PresentationElement) start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	var haveDisplay, haveApp bool
	if e.resolver != nil {
		var c Context
		if c, haveDisplay = e.resolver.ResolveContext(ContextKindGLDisplay); haveDisplay {
			e.display = c.Display
		}
		if c, haveApp = e.resolver.ResolveContext(ContextKindAppContext); haveApp {
			e.appCtx = c.GL
		}
	}

	switch {
	case e.platform == nil:
		Logger().Warn("mediasink: no GL platform, delivering system memory frames", "element", e.name)
	case !haveDisplay || !haveApp:
		Logger().Warn("mediasink: no app GL context, delivering system memory frames", "element", e.name)
	default:
		shared, err := e.platform.NewSharedContext(e.display, e.appCtx)
		if err != nil {
			Logger().Warn("mediasink: shared context unavailable, delivering system memory frames",
				"element", e.name, "error", err)
			break
		}
		e.shared = shared
	}

	e.started = true
	return nil
}

// stop deletes the texture pool and the shared context. The streaming
// goroutine must have exited.
func (e *PresentationElement) stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	shared := e.shared
	e.shared = nil
	e.appCtx = nil
	if shared == nil {
		e.textures = nil
		return nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var err error
	if len(e.textures) > 0 {
		if err = shared.MakeCurrent(); err == nil {
			gl := e.platform.GL()
			for _, tex := range e.textures {
				gl.DeleteTexture(tex)
			}
			err = shared.ReleaseCurrent()
		}
		e.textures = nil
		e.next = 0
	}
	if derr := shared.Destroy(); derr != nil && err == nil {
		err = derr
	}
	return err
}

// render delivers one frame. It runs on the streaming goroutine.
func (e *PresentationElement) render(frame *VideoFrame) error {
	e.received.Add(1)

	if frame.Format != PixelFormatRGBA32 || frame.Width != e.caps.Width || frame.Height != e.caps.Height {
		e.dropped.Add(1)
		return fmt.Errorf("%s: frame %dx%d %s does not match caps %dx%d RGBA",
			e.name, frame.Width, frame.Height, frame.Format, e.caps.Width, e.caps.Height)
	}

	e.mu.Lock()
	draw := e.draw
	shared := e.shared
	e.mu.Unlock()

	buf := &Buffer{
		PTS:      time.Duration(frame.Timestamp),
		Duration: time.Duration(frame.Duration),
	}
	if shared != nil {
		tex, err := e.upload(shared, frame)
		if err != nil {
			e.upErrors.Add(1)
			e.dropped.Add(1)
			return err
		}
		e.uploaded.Add(1)
		buf.Memory = []*Memory{NewGLMemory(tex)}
	} else {
		buf.Memory = []*Memory{NewSystemMemory(packRGBA(frame, nil))}
	}

	if draw == nil {
		e.dropped.Add(1)
		return nil
	}
	if draw(&Sample{Buffer: buf, Info: e.info}) {
		e.drawn.Add(1)
	} else {
		e.dropped.Add(1)
	}
	return nil
}

// upload copies frame into the next texture of the pool using the shared
// context, and waits for the copy to finish so the host context sees it.
func (e *PresentationElement) upload(shared SharedContext, frame *VideoFrame) (tex uint32, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := shared.MakeCurrent(); err != nil {
		return 0, fmt.Errorf("%s: activate shared context: %w", e.name, err)
	}
	defer func() {
		if rerr := shared.ReleaseCurrent(); rerr != nil && err == nil {
			tex, err = 0, fmt.Errorf("%s: release shared context: %w", e.name, rerr)
		}
	}()

	gl := e.platform.GL()
	w, h := int32(e.caps.Width), int32(e.caps.Height)

	e.mu.Lock()
	if e.textures == nil {
		n := e.config.Stream.TexturePool
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			tex := gl.GenTexture()
			gl.BindTexture(glTexture2D, tex)
			gl.TexParameteri(glTexture2D, glTextureMinFilter, glLinear)
			gl.TexParameteri(glTexture2D, glTextureMagFilter, glLinear)
			gl.TexParameteri(glTexture2D, glTextureWrapS, glClampToEdge)
			gl.TexParameteri(glTexture2D, glTextureWrapT, glClampToEdge)
			gl.TexImage2D(glTexture2D, 0, glRGBA, w, h, glRGBA, glUnsignedByte, nil)
			e.textures = append(e.textures, tex)
		}
	}
	tex = e.textures[e.next]
	e.next = (e.next + 1) % len(e.textures)
	pixels := packRGBA(frame, e.scratch)
	if frame.Stride[0] != frame.Width*4 {
		e.scratch = pixels
	}
	e.mu.Unlock()

	gl.BindTexture(glTexture2D, tex)
	gl.PixelStorei(glUnpackAlignment, 4)
	gl.TexSubImage2D(glTexture2D, 0, 0, 0, w, h, glRGBA, glUnsignedByte, pixels)
	gl.BindTexture(glTexture2D, 0)
	gl.Finish()

	if code := gl.GetError(); code != glNoError {
		return 0, fmt.Errorf("%s: texture upload failed: GL error 0x%04x", e.name, code)
	}
	return tex, nil
}

// packRGBA returns frame's pixels with no row padding, reusing dst when it
// is large enough. Tightly packed frames are returned without copying.
func packRGBA(frame *VideoFrame, dst []byte) []byte {
	row := frame.Width * 4
	if frame.Stride[0] == row {
		return frame.Data[0][:row*frame.Height]
	}
	n := row * frame.Height
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for y := 0; y < frame.Height; y++ {
		copy(dst[y*row:(y+1)*row], frame.Data[0][y*frame.Stride[0]:])
	}
	return dst
}
