package mediasink

import "fmt"

// DisplayPlatform names the windowing system a display handle belongs to.
type DisplayPlatform int

const (
	DisplayPlatformUnknown DisplayPlatform = iota
	DisplayPlatformX11
	DisplayPlatformWayland
	DisplayPlatformEGL
	DisplayPlatformCocoa
	DisplayPlatformWin32
)

func (p DisplayPlatform) String() string {
	switch p {
	case DisplayPlatformX11:
		return "x11"
	case DisplayPlatformWayland:
		return "wayland"
	case DisplayPlatformEGL:
		return "egl"
	case DisplayPlatformCocoa:
		return "cocoa"
	case DisplayPlatformWin32:
		return "win32"
	default:
		return "unknown"
	}
}

// Display identifies the native display connection a surface lives on.
type Display struct {
	Platform DisplayPlatform
	Handle   uintptr
}

// GLContext is a host-owned OpenGL context. The sink never creates or
// destroys it.
type GLContext interface {
	Handle() uintptr
}

// Surface is the host drawable the sink presents into.
type Surface interface {
	// Size returns the drawable size in pixels.
	Size() (width, height int)

	// MakeCurrent binds ctx and this surface to the calling thread.
	// A nil ctx releases whatever context is current on the thread.
	MakeCurrent(ctx GLContext) error

	// SwapBuffers presents the back buffer.
	SwapBuffers() error

	// Display returns the native display the surface belongs to.
	Display() Display
}

// Rect is a target region inside a surface, origin at the top-left corner.
type Rect struct {
	X, Y int
	W, H int
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Within reports whether r lies entirely inside a width x height surface.
func (r Rect) Within(width, height int) bool {
	if r.X < 0 || r.Y < 0 || r.W < 0 || r.H < 0 {
		return false
	}
	return r.X <= width && r.Y <= height && r.W <= width-r.X && r.H <= height-r.Y
}

// glViewport converts r to GL viewport coordinates, whose origin is the
// bottom-left corner of the surface.
func (r Rect) glViewport(surfaceHeight int) (x, y, w, h int32) {
	return int32(r.X), int32(surfaceHeight - r.Y - r.H), int32(r.W), int32(r.H)
}
