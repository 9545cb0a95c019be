package mediasink

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// framePresenter draws each delivered texture into the sink's target rect.
// It is the element's draw callback and runs on the streaming goroutine.
type framePresenter struct {
	sink *Sink

	presented atomic.Uint64
	dropped   atomic.Uint64
}

func newFramePresenter(s *Sink) *framePresenter {
	return &framePresenter{sink: s}
}

func (p *framePresenter) draw(sample *Sample) bool {
	frame, err := MapVideoFrame(sample, MapRead|MapGL)
	if err != nil {
		p.dropped.Add(1)
		Logger().Debug("mediasink: dropping frame", "error", err)
		return false
	}
	defer frame.Unmap()

	if err := p.present(frame.Texture(0)); err != nil {
		p.dropped.Add(1)
		Logger().Debug("mediasink: present failed", "error", err)
		return false
	}
	p.presented.Add(1)
	return true
}

// present runs the make-current / draw / swap / release bracket under the
// sink's context lock.
func (p *framePresenter) present(texture uint32) (err error) {
	s := p.sink

	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.surface.MakeCurrent(s.glctx); err != nil {
		return fmt.Errorf("make current: %w", err)
	}
	defer func() {
		if rerr := s.surface.MakeCurrent(nil); rerr != nil && err == nil {
			err = fmt.Errorf("release context: %w", rerr)
		}
	}()

	gl := s.gl
	gl.Viewport(s.target.glViewport(s.height))
	gl.Clear(glColorBufferBit | glDepthBufferBit)
	gl.Enable(glTexture2D)
	gl.BindTexture(glTexture2D, texture)
	gl.TexParameteri(glTexture2D, glTextureMagFilter, glLinear)
	gl.TexParameteri(glTexture2D, glTextureMinFilter, glLinear)
	gl.TexParameteri(glTexture2D, glTextureWrapS, glClampToEdge)
	gl.TexParameteri(glTexture2D, glTextureWrapT, glClampToEdge)
	gl.TexEnvi(glTextureEnv, glTextureEnvMode, glReplace)
	gl.Begin(glQuads)
	for _, v := range presentQuad {
		gl.TexCoord2f(v.s, v.t)
		gl.Vertex2f(v.x, v.y)
	}
	gl.End()

	if err := s.surface.SwapBuffers(); err != nil {
		return fmt.Errorf("swap buffers: %w", err)
	}
	return nil
}
