package mediasink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// callLog records GL and context calls in order, across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeGL is a recording GL implementation.
type fakeGL struct {
	log *callLog

	mu      sync.Mutex
	nextTex uint32
	live    map[uint32]bool
	errCode uint32
}

func newFakeGL(log *callLog) *fakeGL {
	return &fakeGL{log: log, live: make(map[uint32]bool)}
}

func (g *fakeGL) Viewport(x, y, w, h int32) { g.log.add("Viewport(%d,%d,%d,%d)", x, y, w, h) }
func (g *fakeGL) ClearColor(r, gg, b, a float32) {
	g.log.add("ClearColor(%g,%g,%g,%g)", r, gg, b, a)
}
func (g *fakeGL) Clear(mask uint32) { g.log.add("Clear(0x%x)", mask) }
func (g *fakeGL) Enable(c uint32) { g.log.add("Enable(0x%x)", c) }
func (g *fakeGL) Disable(c uint32) { g.log.add("Disable(0x%x)", c) }
func (g *fakeGL) BindTexture(_, t uint32) { g.log.add("BindTexture(%d)", t) }
func (g *fakeGL) TexParameteri(_, pname uint32, param int32) {
	g.log.add("TexParameteri(0x%x,0x%x)", pname, param)
}
func (g *fakeGL) TexEnvi(_, pname uint32, param int32) {
	g.log.add("TexEnvi(0x%x,0x%x)", pname, param)
}
func (g *fakeGL) PixelStorei(pname uint32, param int32) {
	g.log.add("PixelStorei(0x%x,%d)", pname, param)
}
func (g *fakeGL) TexImage2D(_ uint32, _ int32, _ int32, w, h int32, _, _ uint32, _ []byte) {
	g.log.add("TexImage2D(%d,%d)", w, h)
}
func (g *fakeGL) TexSubImage2D(_ uint32, _ int32, _, _, w, h int32, _, _ uint32, pixels []byte) {
	g.log.add("TexSubImage2D(%d,%d,%d)", w, h, len(pixels))
}
func (g *fakeGL) Begin(mode uint32) { g.log.add("Begin(0x%x)", mode) }
func (g *fakeGL) TexCoord2f(s, t float32) { g.log.add("TexCoord2f(%g,%g)", s, t) }
func (g *fakeGL) Vertex2f(x, y float32) { g.log.add("Vertex2f(%g,%g)", x, y) }
func (g *fakeGL) End() { g.log.add("End") }
func (g *fakeGL) Finish() { g.log.add("Finish") }

func (g *fakeGL) GenTexture() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextTex++
	g.live[g.nextTex] = true
	g.log.add("GenTexture")
	return g.nextTex
}

func (g *fakeGL) DeleteTexture(t uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.live, t)
	g.log.add("DeleteTexture(%d)", t)
}

func (g *fakeGL) GetError() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errCode
}

func (g *fakeGL) liveTextures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

type fakeContext struct{ id uintptr }

func (c *fakeContext) Handle() uintptr { return c.id }

// fakeSurface tracks whether its context is current and counts overlapping
// activations, which would mean two threads used the context at once.
type fakeSurface struct {
	w, h    int
	display Display
	log     *callLog

	mu       sync.Mutex
	current  GLContext
	overlaps int
	swaps    int
	makeErr  error
}

func (s *fakeSurface) Size() (int, int) { return s.w, s.h }

func (s *fakeSurface) MakeCurrent(ctx GLContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx == nil {
		s.current = nil
		s.log.add("Release")
		return nil
	}
	if s.makeErr != nil {
		return s.makeErr
	}
	if s.current != nil {
		s.overlaps++
	}
	s.current = ctx
	s.log.add("MakeCurrent")
	return nil
}

func (s *fakeSurface) SwapBuffers() error {
	s.mu.Lock()
	s.swaps++
	s.mu.Unlock()
	s.log.add("SwapBuffers")
	return nil
}

func (s *fakeSurface) Display() Display { return s.display }

func (s *fakeSurface) stats() (overlaps, swaps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps, s.swaps
}

func (s *fakeSurface) setMakeErr(err error) {
	s.mu.Lock()
	s.makeErr = err
	s.mu.Unlock()
}

// fakePlatform hands out fake shared contexts.
type fakePlatform struct {
	gl  *fakeGL
	log *callLog

	mu         sync.Mutex
	sharedErr  error
	releaseErr error // returned by the shared context's ReleaseCurrent
	share      GLContext
	created   int
	destroyed int
}

func (p *fakePlatform) GL() GL { return p.gl }

func (p *fakePlatform) NewSharedContext(_ Display, share GLContext) (SharedContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sharedErr != nil {
		return nil, p.sharedErr
	}
	p.created++
	p.share = share
	p.log.add("NewSharedContext")
	return &fakeShared{p: p}, nil
}

func (p *fakePlatform) counts() (created, destroyed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, p.destroyed
}

type fakeShared struct {
	p *fakePlatform
}

func (c *fakeShared) MakeCurrent() error {
	c.p.log.add("SharedMakeCurrent")
	return nil
}

func (c *fakeShared) ReleaseCurrent() error {
	c.p.log.add("SharedRelease")
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.releaseErr
}

func (p *fakePlatform) setReleaseErr(err error) {
	p.mu.Lock()
	p.releaseErr = err
	p.mu.Unlock()
}

func (c *fakeShared) Destroy() error {
	c.p.mu.Lock()
	c.p.destroyed++
	c.p.mu.Unlock()
	c.p.log.add("SharedDestroy")
	return nil
}

// testEnv bundles an initialized subsystem with fake host objects.
type testEnv struct {
	sub      *Subsystem
	log      *callLog
	gl       *fakeGL
	platform *fakePlatform
	surface  *fakeSurface
	ctx      *fakeContext
}

func newTestEnv(t *testing.T, w, h int) *testEnv {
	t.Helper()
	log := &callLog{}
	gl := newFakeGL(log)
	env := &testEnv{
		log:      log,
		gl:       gl,
		platform: &fakePlatform{gl: gl, log: log},
		surface:  &fakeSurface{w: w, h: h, display: Display{Platform: DisplayPlatformX11, Handle: 0x10}, log: log},
		ctx:      &fakeContext{id: 0x20},
	}
	env.sub = NewSubsystem(WithPlatform(env.platform))
	if err := env.sub.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(env.sub.Quit)
	return env
}

func (e *testEnv) newSink(t *testing.T, target *Rect) *Sink {
	t.Helper()
	s, err := e.sub.CreateSink(e.surface, e.ctx, target)
	if err != nil {
		t.Fatalf("CreateSink failed: %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// fakeSource produces solid RGBA frames. After limit frames (0 = never) it
// returns err, or io.EOF when err is nil.
type fakeSource struct {
	w, h  int
	limit int
	err   error

	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	closes  int
	reads   int
	frame   *VideoFrame
}

func newFakeSource(w, h int) *fakeSource {
	return &fakeSource{w: w, h: h, frame: NewRGBAFrame(w, h)}
}

func (s *fakeSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("already running")
	}
	s.running = true
	s.starts++
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stops++
	}
	s.running = false
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.Stop()
}

func (s *fakeSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, errSourceNotStarted
	}
	s.reads++
	if s.limit > 0 && s.reads > s.limit {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return s.frame, nil
}

func (s *fakeSource) Config() SourceConfig {
	return SourceConfig{Width: s.w, Height: s.h, Format: PixelFormatRGBA32}
}

func (s *fakeSource) counts() (starts, stops, closes, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops, s.closes, s.reads
}

// Media types reserved for builders registered by tests.
const (
	mediaTypeFakeSource MediaType = 100 + iota
	mediaTypeFailing
	mediaTypeRecording
	mediaTypeShortClip
)

func init() {
	RegisterBuilder(mediaTypeFakeSource, BuilderFunc(func(el *PresentationElement, caps Caps, _ string) (Graph, error) {
		return NewStreamGraph("fakesrc", newFakeSource(caps.Width, caps.Height), el, ScaleModeFit), nil
	}))
	RegisterBuilder(mediaTypeFailing, BuilderFunc(func(*PresentationElement, Caps, string) (Graph, error) {
		return nil, fmt.Errorf("no such element")
	}))
}
