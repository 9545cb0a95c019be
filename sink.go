package mediasink

import (
	"fmt"
	"runtime"
	"sync"
)

// SinkState is the externally visible lifecycle state of a sink.
type SinkState int

const (
	SinkUnbound SinkState = iota // destroyed or never created
	SinkBound                    // bound to a surface, no pipeline
	SinkStopped                  // pipeline attached, not running
	SinkPaused                   // pipeline prerolled, no frames drawn
	SinkPlaying                  // frames are being drawn
)

func (s SinkState) String() string {
	switch s {
	case SinkUnbound:
		return "unbound"
	case SinkBound:
		return "bound"
	case SinkStopped:
		return "stopped"
	case SinkPaused:
		return "paused"
	case SinkPlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// SinkStats counts frames handled by a sink's presenter.
type SinkStats struct {
	FramesPresented uint64
	FramesDropped   uint64
	Pipeline        PipelineStats
	Element         ElementStats
}

// Sink binds a host surface and GL context to at most one pipeline.
//
// Sink methods are meant to be called from the host's thread. The draw
// callback runs on the pipeline's streaming goroutine; host rendering through
// the same context must go through WithContext.
type Sink struct {
	sub      *Subsystem
	surface  Surface
	glctx    GLContext
	gl       GL
	platform Platform
	width    int
	height   int
	target   Rect

	bridge    *contextBridge
	presenter *framePresenter

	// ctxMu is held whenever glctx is current on some thread on behalf of
	// this sink.
	ctxMu sync.Mutex

	mu        sync.Mutex
	pipeline  *Pipeline
	destroyed bool
	attaches  int
}

func newSink(sub *Subsystem, surface Surface, glctx GLContext, target *Rect) (*Sink, error) {
	if surface == nil {
		return nil, errorf("create", KindInvalidArgument, "invalid surface")
	}
	if glctx == nil {
		return nil, errorf("create", KindInvalidArgument, "invalid GL context")
	}

	w, h := surface.Size()
	rect := Rect{W: w, H: h}
	if target != nil {
		if !target.Within(w, h) {
			return nil, errorf("create", KindInvalidTarget, "target %s outside %dx%d surface", target, w, h)
		}
		rect = *target
	}

	s := &Sink{
		sub:      sub,
		surface:  surface,
		glctx:    glctx,
		platform: sub.platform,
		width:    w,
		height:   h,
		target:   rect,
	}
	if sub.platform != nil {
		s.gl = sub.platform.GL()
	}
	s.bridge = newContextBridge(surface, glctx)
	s.presenter = newFramePresenter(s)
	return s, nil
}

// Size returns the surface size captured when the sink was created.
func (s *Sink) Size() (width, height int) { return s.width, s.height }

// Target returns the rect frames are drawn into.
func (s *Sink) Target() Rect { return s.target }

// State returns the sink's lifecycle state.
func (s *Sink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return SinkUnbound
	}
	if s.pipeline == nil {
		return SinkBound
	}
	switch s.pipeline.State() {
	case StatePlaying:
		return SinkPlaying
	case StatePaused:
		return SinkPaused
	default:
		return SinkStopped
	}
}

// Pipeline returns the attached pipeline, or nil.
func (s *Sink) Pipeline() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// Stats returns frame counters for the current pipeline.
func (s *Sink) Stats() SinkStats {
	st := SinkStats{
		FramesPresented: s.presenter.presented.Load(),
		FramesDropped:   s.presenter.dropped.Load(),
	}
	if p := s.Pipeline(); p != nil {
		st.Pipeline = p.Stats()
		st.Element = p.Element().Stats()
	}
	return st
}

// Attach builds a pipeline for desc and binds it to the sink. The pipeline
// starts stopped.
func (s *Sink) Attach(desc SourceDescriptor) error {
	return s.sub.fail(s.attach(desc))
}

func (s *Sink) attach(desc SourceDescriptor) error {
	const op = "attach"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return errorf(op, KindInvalidArgument, "invalid media sink")
	}
	if s.pipeline != nil {
		return newError(op, KindAlreadyAttached, nil)
	}

	builder, ok := lookupBuilder(desc.Kind)
	if !ok {
		return errorf(op, KindInvalidMediaType, "invalid media type %s", desc.Kind)
	}
	if desc.Kind.needsLocator() && desc.Locator == "" {
		return errorf(op, KindInvalidArgument, "%s source requires a locator", desc.Kind)
	}

	rate := Unbounded
	if desc.Framerate != nil {
		rate = *desc.Framerate
		if !rate.Valid() {
			return errorf(op, KindInvalidArgument, "invalid framerate %s", rate)
		}
	}

	caps := NewCaps(s.width, s.height, rate)
	s.attaches++
	name := fmt.Sprintf("%s-%d", desc.Kind, s.attaches)
	el := NewPresentationElement(name, s.platform, caps, s.sub.config)

	graph, err := builder.Build(el, caps, desc.Locator)
	if err != nil {
		return newError(op, KindPipelineConstructionFailed, err)
	}

	p := newPipeline(graph, el, s.bridge)
	el.OnDraw(s.presenter.draw)
	s.pipeline = p

	Logger().Info("mediasink: pipeline attached", "pipeline", name, "caps", caps.String())
	return nil
}

// Detach tears the pipeline down and returns the sink to SinkBound.
func (s *Sink) Detach() error {
	return s.sub.fail(s.detach())
}

func (s *Sink) detach() error {
	const op = "detach"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return errorf(op, KindInvalidArgument, "invalid media sink")
	}
	if s.pipeline == nil {
		return newError(op, KindNoPipelineAttached, nil)
	}
	p := s.pipeline
	s.pipeline = nil
	if err := p.close(); err != nil {
		Logger().Warn("mediasink: pipeline release failed", "pipeline", p.element.Name(), "error", err)
	}
	Logger().Info("mediasink: pipeline detached", "pipeline", p.element.Name())
	return nil
}

// Play starts drawing frames. It returns once the pipeline has committed to
// playing; the first frame may arrive later.
func (s *Sink) Play() error {
	return s.sub.fail(s.setState("play", StatePlaying))
}

// Pause stops drawing while keeping the source prerolled.
func (s *Sink) Pause() error {
	return s.sub.fail(s.setState("pause", StatePaused))
}

// Stop tears the pipeline down to StateNull. It returns after the streaming
// goroutine has exited, so no draw callback runs afterwards.
func (s *Sink) Stop() error {
	return s.sub.fail(s.setState("stop", StateNull))
}

func (s *Sink) setState(op string, target State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return errorf(op, KindInvalidArgument, "invalid media sink")
	}
	if s.pipeline == nil {
		return newError(op, KindStateTransitionFailed, ErrNoPipelineAttached)
	}
	if err := s.pipeline.setState(target); err != nil {
		return newError(op, KindStateTransitionFailed, fmt.Errorf("%w: %w", ErrStateTransitionFailed, err))
	}
	Logger().Info("mediasink: state set", "pipeline", s.pipeline.element.Name(), "state", target)
	return nil
}

// Destroy releases the sink and any attached pipeline. The surface and GL
// context stay owned by the host.
func (s *Sink) Destroy() error {
	return s.sub.DestroySink(s)
}

func (s *Sink) destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return errorf("destroy", KindInvalidArgument, "invalid media sink")
	}
	s.destroyed = true
	if p := s.pipeline; p != nil {
		s.pipeline = nil
		if err := p.close(); err != nil {
			Logger().Warn("mediasink: pipeline release failed", "pipeline", p.element.Name(), "error", err)
		}
	}
	return nil
}

// WithContext makes the sink's GL context current on the calling thread,
// runs fn and releases the context again. It excludes the draw callback for
// its duration.
func (s *Sink) WithContext(fn func(gl GL) error) error {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.surface.MakeCurrent(s.glctx); err != nil {
		return fmt.Errorf("make current: %w", err)
	}
	err := fn(s.gl)
	if rerr := s.surface.MakeCurrent(nil); rerr != nil && err == nil {
		err = fmt.Errorf("release context: %w", rerr)
	}
	return err
}
