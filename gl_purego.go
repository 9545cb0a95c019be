//go:build (darwin || linux) && !cgo

// OpenGL function table loaded with purego.

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
	glOnce    sync.Once
	glHandle  uintptr
	glInitErr error
	glLoaded  bool
)

// libGL function pointers
var (
	glViewportFn       func(x, y, width, height int32)
	glClearColorFn     func(r, g, b, a float32)
	glClearFn          func(mask uint32)
	glEnableFn         func(capability uint32)
	glDisableFn        func(capability uint32)
	glGenTexturesFn    func(n int32, textures uintptr)
	glDeleteTexturesFn func(n int32, textures uintptr)
	glBindTextureFn    func(target, texture uint32)
	glTexParameteriFn  func(target, pname uint32, param int32)
	glTexEnviFn        func(target, pname uint32, param int32)
	glPixelStoreiFn    func(pname uint32, param int32)
	glTexImage2DFn     func(target uint32, level, internalFormat, width, height, border int32, format, typ uint32, pixels uintptr)
	glTexSubImage2DFn  func(target uint32, level, x, y, width, height int32, format, typ uint32, pixels uintptr)
	glBeginFn          func(mode uint32)
	glTexCoord2fFn     func(s, t float32)
	glVertex2fFn       func(x, y float32)
	glEndFn            func()
	glFinishFn         func()
	glGetErrorFn       func() uint32
)

// LoadGL loads the system OpenGL library. libPath, when non-empty, is tried
// before the default locations. Only the first call's libPath is honored.
func LoadGL(libPath string) (GL, error) {
	glOnce.Do(func() {
		glInitErr = loadGLLib(libPath)
		if glInitErr == nil {
			glLoaded = true
		}
	})
	if glInitErr != nil {
		return nil, glInitErr
	}
	return nativeGL{}, nil
}

// IsGLAvailable reports whether the OpenGL library could be loaded.
func IsGLAvailable() bool {
	_, err := LoadGL("")
	return err == nil
}

func loadGLLib(preferred string) error {
	var paths []string
	if preferred != "" {
		paths = append(paths, preferred)
	}
	paths = append(paths, glLibPaths()...)

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		glHandle = handle
		if err := loadGLSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load OpenGL: %w", lastErr)
	}
	return errors.New("OpenGL library not found in any standard location")
}

func glLibPaths() []string {
	if runtime.GOOS == "darwin" {
		return []string{"/System/Library/Frameworks/OpenGL.framework/OpenGL"}
	}
	paths := nativeLibPaths("libGL.so.1", "MEDIASINK_GL_LIB_PATH")
	return append(paths, "libGL.so")
}

func loadGLSymbols() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load OpenGL symbol: %v", r)
		}
	}()

	purego.RegisterLibFunc(&glViewportFn, glHandle, "glViewport")
	purego.RegisterLibFunc(&glClearColorFn, glHandle, "glClearColor")
	purego.RegisterLibFunc(&glClearFn, glHandle, "glClear")
	purego.RegisterLibFunc(&glEnableFn, glHandle, "glEnable")
	purego.RegisterLibFunc(&glDisableFn, glHandle, "glDisable")
	purego.RegisterLibFunc(&glGenTexturesFn, glHandle, "glGenTextures")
	purego.RegisterLibFunc(&glDeleteTexturesFn, glHandle, "glDeleteTextures")
	purego.RegisterLibFunc(&glBindTextureFn, glHandle, "glBindTexture")
	purego.RegisterLibFunc(&glTexParameteriFn, glHandle, "glTexParameteri")
	purego.RegisterLibFunc(&glTexEnviFn, glHandle, "glTexEnvi")
	purego.RegisterLibFunc(&glPixelStoreiFn, glHandle, "glPixelStorei")
	purego.RegisterLibFunc(&glTexImage2DFn, glHandle, "glTexImage2D")
	purego.RegisterLibFunc(&glTexSubImage2DFn, glHandle, "glTexSubImage2D")
	purego.RegisterLibFunc(&glBeginFn, glHandle, "glBegin")
	purego.RegisterLibFunc(&glTexCoord2fFn, glHandle, "glTexCoord2f")
	purego.RegisterLibFunc(&glVertex2fFn, glHandle, "glVertex2f")
	purego.RegisterLibFunc(&glEndFn, glHandle, "glEnd")
	purego.RegisterLibFunc(&glFinishFn, glHandle, "glFinish")
	purego.RegisterLibFunc(&glGetErrorFn, glHandle, "glGetError")
	return nil
}

// nativeGL dispatches to the loaded libGL entry points.
type nativeGL struct{}

func (nativeGL) Viewport(x, y, width, height int32) { glViewportFn(x, y, width, height) }
func (nativeGL) ClearColor(r, g, b, a float32)      { glClearColorFn(r, g, b, a) }
func (nativeGL) Clear(mask uint32)                  { glClearFn(mask) }
func (nativeGL) Enable(capability uint32)           { glEnableFn(capability) }
func (nativeGL) Disable(capability uint32)          { glDisableFn(capability) }

func (nativeGL) GenTexture() uint32 {
	var tex uint32
	glGenTexturesFn(1, uintptr(unsafe.Pointer(&tex)))
	return tex
}

func (nativeGL) DeleteTexture(tex uint32) {
	glDeleteTexturesFn(1, uintptr(unsafe.Pointer(&tex)))
}

func (nativeGL) BindTexture(target, tex uint32) { glBindTextureFn(target, tex) }

func (nativeGL) TexParameteri(target, pname uint32, param int32) {
	glTexParameteriFn(target, pname, param)
}

func (nativeGL) TexEnvi(target, pname uint32, param int32) { glTexEnviFn(target, pname, param) }
func (nativeGL) PixelStorei(pname uint32, param int32)     { glPixelStoreiFn(pname, param) }

func (nativeGL) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
	var ptr uintptr
	if len(pixels) > 0 {
		ptr = uintptr(unsafe.Pointer(&pixels[0]))
	}
	glTexImage2DFn(target, level, internalFormat, width, height, 0, format, typ, ptr)
	runtime.KeepAlive(pixels)
}

func (nativeGL) TexSubImage2D(target uint32, level, x, y, width, height int32, format, typ uint32, pixels []byte) {
	if len(pixels) == 0 {
		return
	}
	glTexSubImage2DFn(target, level, x, y, width, height, format, typ, uintptr(unsafe.Pointer(&pixels[0])))
	runtime.KeepAlive(pixels)
}

func (nativeGL) Begin(mode uint32)       { glBeginFn(mode) }
func (nativeGL) TexCoord2f(s, t float32) { glTexCoord2fFn(s, t) }
func (nativeGL) Vertex2f(x, y float32)   { glVertex2fFn(x, y) }
func (nativeGL) End()                    { glEndFn() }
func (nativeGL) Finish()                 { glFinishFn() }
func (nativeGL) GetError() uint32        { return glGetErrorFn() }
