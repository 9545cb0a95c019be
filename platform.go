package mediasink

// SharedContext is a GL context created by the pipeline that shares objects
// (textures) with the host's context. It is only ever current on the
// streaming goroutine.
type SharedContext interface {
	MakeCurrent() error
	ReleaseCurrent() error
	Destroy() error
}

// Platform supplies GL entry points and shared-context creation. Hosts
// provide one that matches their windowing toolkit.
type Platform interface {
	GL() GL

	// NewSharedContext creates a context on display sharing objects with
	// share. It returns ErrNotSupported when the platform cannot.
	NewSharedContext(display Display, share GLContext) (SharedContext, error)
}

// NativePlatform exposes the dynamically loaded OpenGL library. It cannot
// create contexts, so pipelines built on it run without GL upload unless the
// host supplies a richer Platform.
type NativePlatform struct {
	gl GL
}

// NewNativePlatform loads OpenGL from libPath or the default locations.
func NewNativePlatform(libPath string) (*NativePlatform, error) {
	gl, err := LoadGL(libPath)
	if err != nil {
		return nil, err
	}
	return &NativePlatform{gl: gl}, nil
}

func (p *NativePlatform) GL() GL { return p.gl }

func (p *NativePlatform) NewSharedContext(Display, GLContext) (SharedContext, error) {
	return nil, ErrNotSupported
}
