package mediasink

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func glSample(tex uint32) *Sample {
	return &Sample{
		Buffer: &Buffer{Memory: []*Memory{NewGLMemory(tex)}},
		Info:   VideoInfo{Width: 64, Height: 48, Format: PixelFormatRGBA32},
	}
}

func TestPresenter_DrawBracket(t *testing.T) {
	env := newTestEnv(t, 64, 48)
	s := env.newSink(t, nil)
	env.log.reset()

	if !s.presenter.draw(glSample(7)) {
		t.Fatal("draw reported a drop")
	}

	want := []string{
		"MakeCurrent",
		"Viewport(0,0,64,48)",
		fmt.Sprintf("Clear(0x%x)", glColorBufferBit|glDepthBufferBit),
		fmt.Sprintf("Enable(0x%x)", glTexture2D),
		"BindTexture(7)",
		fmt.Sprintf("TexParameteri(0x%x,0x%x)", glTextureMagFilter, glLinear),
		fmt.Sprintf("TexParameteri(0x%x,0x%x)", glTextureMinFilter, glLinear),
		fmt.Sprintf("TexParameteri(0x%x,0x%x)", glTextureWrapS, glClampToEdge),
		fmt.Sprintf("TexParameteri(0x%x,0x%x)", glTextureWrapT, glClampToEdge),
		fmt.Sprintf("TexEnvi(0x%x,0x%x)", glTextureEnvMode, glReplace),
		fmt.Sprintf("Begin(0x%x)", glQuads),
		"TexCoord2f(0,0)", "Vertex2f(-1,1)",
		"TexCoord2f(1,0)", "Vertex2f(1,1)",
		"TexCoord2f(1,1)", "Vertex2f(1,-1)",
		"TexCoord2f(0,1)", "Vertex2f(-1,-1)",
		"End",
		"SwapBuffers",
		"Release",
	}
	if got := env.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls:\n got %q\nwant %q", got, want)
	}
	if n := s.presenter.presented.Load(); n != 1 {
		t.Errorf("presented = %d, want 1", n)
	}
}

func TestPresenter_TargetViewport(t *testing.T) {
	env := newTestEnv(t, 640, 480)
	s := env.newSink(t, &Rect{X: 10, Y: 20, W: 100, H: 50})
	env.log.reset()

	if !s.presenter.draw(glSample(1)) {
		t.Fatal("draw reported a drop")
	}
	// Rect origin is top-left; GL's is bottom-left.
	if n := env.log.count("Viewport(10,410,100,50)"); n != 1 {
		t.Errorf("viewport calls = %v", env.log.snapshot())
	}
}

func TestPresenter_UnmapsSample(t *testing.T) {
	env := newTestEnv(t, 64, 48)
	s := env.newSink(t, nil)

	sample := glSample(3)
	mem := sample.Buffer.Memory[0]
	for i := 0; i < 3; i++ {
		s.presenter.draw(sample)
	}
	if n := mem.mappedCount(); n != 0 {
		t.Errorf("outstanding maps = %d, want 0", n)
	}

	env.surface.setMakeErr(errors.New("context lost"))
	if s.presenter.draw(sample) {
		t.Error("draw succeeded with a failing MakeCurrent")
	}
	if n := mem.mappedCount(); n != 0 {
		t.Errorf("outstanding maps after failure = %d, want 0", n)
	}
}

func TestPresenter_DropsSystemMemory(t *testing.T) {
	env := newTestEnv(t, 64, 48)
	s := env.newSink(t, nil)
	env.log.reset()

	sample := &Sample{
		Buffer: &Buffer{Memory: []*Memory{NewSystemMemory(make([]byte, 64*48*4))}},
		Info:   VideoInfo{Width: 64, Height: 48, Format: PixelFormatRGBA32},
	}
	if s.presenter.draw(sample) {
		t.Fatal("system memory sample was presented")
	}
	if s.presenter.draw(nil) {
		t.Fatal("nil sample was presented")
	}
	if n := s.presenter.dropped.Load(); n != 2 {
		t.Errorf("dropped = %d, want 2", n)
	}
	if calls := env.log.snapshot(); len(calls) != 0 {
		t.Errorf("context touched for dropped frames: %v", calls)
	}
}

func TestPresenter_MakeCurrentFailure(t *testing.T) {
	env := newTestEnv(t, 64, 48)
	s := env.newSink(t, nil)
	env.surface.setMakeErr(errors.New("bad drawable"))
	env.log.reset()

	if s.presenter.draw(glSample(1)) {
		t.Fatal("draw succeeded")
	}
	if calls := env.log.snapshot(); len(calls) != 0 {
		t.Errorf("GL calls without a current context: %v", calls)
	}
	if n := s.presenter.dropped.Load(); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}

	// The context lock must have been released.
	env.surface.setMakeErr(nil)
	if err := s.WithContext(func(GL) error { return nil }); err != nil {
		t.Fatalf("WithContext after failed draw: %v", err)
	}
}

func TestWithContext_Bracket(t *testing.T) {
	env := newTestEnv(t, 64, 48)
	s := env.newSink(t, nil)
	env.log.reset()

	wantErr := errors.New("host failure")
	err := s.WithContext(func(gl GL) error {
		if gl == nil {
			t.Error("nil GL")
		}
		gl.Clear(glColorBufferBit)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithContext error = %v, want %v", err, wantErr)
	}
	want := []string{"MakeCurrent", fmt.Sprintf("Clear(0x%x)", glColorBufferBit), "Release"}
	if got := env.log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}
