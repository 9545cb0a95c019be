//go:build !darwin && !linux

package mediasink

// LoadGL is unavailable on this platform.
func LoadGL(string) (GL, error) { return nil, ErrNotSupported }

// IsGLAvailable reports whether the OpenGL library could be loaded.
func IsGLAvailable() bool { return false }
