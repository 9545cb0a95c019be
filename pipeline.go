package mediasink

import (
	"errors"
	"sync"
)

// PipelineStats summarizes what a pipeline's bus reported.
type PipelineStats struct {
	Errors       uint64
	Warnings     uint64
	EOS          bool
	StateChanges uint64
	LastError    error
}

// Pipeline is a built graph owned by exactly one sink.
type Pipeline struct {
	graph   Graph
	element *PresentationElement
	info    VideoInfo

	// Handles handed out through the context bridge.
	display Display
	appCtx  GLContext

	watchDone chan struct{}
	closeOnce sync.Once

	statsMu sync.Mutex
	stats   PipelineStats
}

func newPipeline(graph Graph, el *PresentationElement, resolver ContextResolver) *Pipeline {
	p := &Pipeline{
		graph:     graph,
		element:   el,
		info:      el.Caps().VideoInfo(),
		watchDone: make(chan struct{}),
	}
	if c, ok := resolver.ResolveContext(ContextKindGLDisplay); ok {
		p.display = c.Display
	}
	if c, ok := resolver.ResolveContext(ContextKindAppContext); ok {
		p.appCtx = c.GL
	}
	el.SetContextResolver(resolver)

	go p.watch()
	return p
}

// watch drains the bus until it is closed.
func (p *Pipeline) watch() {
	defer close(p.watchDone)
	name := p.element.Name()

	for msg := range p.graph.Bus().Messages() {
		p.statsMu.Lock()
		switch msg.Type {
		case MessageError:
			p.stats.Errors++
			p.stats.LastError = msg.Err
		case MessageWarning:
			p.stats.Warnings++
		case MessageEOS:
			p.stats.EOS = true
		case MessageStateChanged:
			p.stats.StateChanges++
		}
		p.statsMu.Unlock()

		switch msg.Type {
		case MessageError:
			Logger().Warn("mediasink: pipeline error", "pipeline", name, "source", msg.Source, "error", msg.Err)
		case MessageWarning:
			Logger().Debug("mediasink: pipeline warning", "pipeline", name, "source", msg.Source, "error", msg.Err)
		case MessageEOS:
			Logger().Info("mediasink: end of stream", "pipeline", name)
		case MessageStateChanged:
			Logger().Debug("mediasink: state changed", "pipeline", name, "from", msg.Old, "to", msg.New)
		}
	}
}

// Info returns the negotiated video info.
func (p *Pipeline) Info() VideoInfo { return p.info }

// State returns the graph's committed state.
// Display returns the display handle the pipeline was given through the
// context bridge.
func (p *Pipeline) Display() Display { return p.display }

// AppContext returns the host GL context the pipeline shares objects with.
// The pipeline never makes it current.
func (p *Pipeline) AppContext() GLContext { return p.appCtx }

func (p *Pipeline) State() State { return p.graph.State() }

// Element returns the presentation element at the end of the graph.
func (p *Pipeline) Element() *PresentationElement { return p.element }

// Stats returns a snapshot of the bus counters.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Pipeline) setState(s State) error {
	return p.graph.SetState(s)
}

// close forces the graph to StateNull, which joins the streaming goroutine,
// then releases it and waits for the bus watcher.
func (p *Pipeline) close() error {
	var err error
	p.closeOnce.Do(func() {
		if serr := p.graph.SetState(StateNull); serr != nil {
			err = serr
		}
		if cerr := p.graph.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		p.element.OnDraw(nil)
		<-p.watchDone
	})
	return err
}
