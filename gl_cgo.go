//go:build cgo && (darwin || linux)

// OpenGL function table linked through cgo.

package mediasink

/*
#cgo linux LDFLAGS: -lGL
#cgo darwin LDFLAGS: -framework OpenGL
#cgo darwin CFLAGS: -DGL_SILENCE_DEPRECATION

#ifdef __APPLE__
#include <OpenGL/gl.h>
#else
#include <GL/gl.h>
#endif
*/
import "C"

import "unsafe"

// LoadGL returns the linked OpenGL function table. libPath is ignored: with
// cgo the library is resolved by the dynamic linker at startup.
func LoadGL(libPath string) (GL, error) {
	_ = libPath
	return cgoGL{}, nil
}

// IsGLAvailable reports whether the OpenGL library could be loaded.
func IsGLAvailable() bool { return true }

type cgoGL struct{}

func (cgoGL) Viewport(x, y, width, height int32) {
	C.glViewport(C.GLint(x), C.GLint(y), C.GLsizei(width), C.GLsizei(height))
}

func (cgoGL) ClearColor(r, g, b, a float32) {
	C.glClearColor(C.GLfloat(r), C.GLfloat(g), C.GLfloat(b), C.GLfloat(a))
}

func (cgoGL) Clear(mask uint32)         { C.glClear(C.GLbitfield(mask)) }
func (cgoGL) Enable(capability uint32)  { C.glEnable(C.GLenum(capability)) }
func (cgoGL) Disable(capability uint32) { C.glDisable(C.GLenum(capability)) }

func (cgoGL) GenTexture() uint32 {
	var tex C.GLuint
	C.glGenTextures(1, &tex)
	return uint32(tex)
}

func (cgoGL) DeleteTexture(tex uint32) {
	t := C.GLuint(tex)
	C.glDeleteTextures(1, &t)
}

func (cgoGL) BindTexture(target, tex uint32) { C.glBindTexture(C.GLenum(target), C.GLuint(tex)) }

func (cgoGL) TexParameteri(target, pname uint32, param int32) {
	C.glTexParameteri(C.GLenum(target), C.GLenum(pname), C.GLint(param))
}

func (cgoGL) TexEnvi(target, pname uint32, param int32) {
	C.glTexEnvi(C.GLenum(target), C.GLenum(pname), C.GLint(param))
}

func (cgoGL) PixelStorei(pname uint32, param int32) {
	C.glPixelStorei(C.GLenum(pname), C.GLint(param))
}

func (cgoGL) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
	var ptr unsafe.Pointer
	if len(pixels) > 0 {
		ptr = unsafe.Pointer(&pixels[0])
	}
	C.glTexImage2D(C.GLenum(target), C.GLint(level), C.GLint(internalFormat),
		C.GLsizei(width), C.GLsizei(height), 0, C.GLenum(format), C.GLenum(typ), ptr)
}

func (cgoGL) TexSubImage2D(target uint32, level, x, y, width, height int32, format, typ uint32, pixels []byte) {
	if len(pixels) == 0 {
		return
	}
	C.glTexSubImage2D(C.GLenum(target), C.GLint(level), C.GLint(x), C.GLint(y),
		C.GLsizei(width), C.GLsizei(height), C.GLenum(format), C.GLenum(typ), unsafe.Pointer(&pixels[0]))
}

func (cgoGL) Begin(mode uint32)       { C.glBegin(C.GLenum(mode)) }
func (cgoGL) TexCoord2f(s, t float32) { C.glTexCoord2f(C.GLfloat(s), C.GLfloat(t)) }
func (cgoGL) Vertex2f(x, y float32)   { C.glVertex2f(C.GLfloat(x), C.GLfloat(y)) }
func (cgoGL) End()                    { C.glEnd() }
func (cgoGL) Finish()                 { C.glFinish() }
func (cgoGL) GetError() uint32        { return uint32(C.glGetError()) }
