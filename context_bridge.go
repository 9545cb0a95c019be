package mediasink

// ContextKind names a context query a pipeline element can issue.
type ContextKind string

const (
	ContextKindGLDisplay  ContextKind = "gst.gl.GLDisplay"
	ContextKindAppContext ContextKind = "gst.gl.app_context"
)

// Context is the answer to a context query. Only the field matching Kind is
// meaningful.
type Context struct {
	Kind    ContextKind
	Display Display
	GL      GLContext

	// Wrapped marks GL as a foreign context used only as a share peer; the
	// pipeline must never make it current.
	Wrapped bool
}

// ContextResolver answers context queries from pipeline elements.
type ContextResolver interface {
	ResolveContext(kind ContextKind) (Context, bool)
}

// contextBridge answers display and app-context queries with the handles the
// sink was created with. It never touches the GL context itself, so it is
// safe to call from any goroutine without the sink's context lock.
type contextBridge struct {
	display Display
	glctx   GLContext
}

func newContextBridge(surface Surface, glctx GLContext) *contextBridge {
	return &contextBridge{display: surface.Display(), glctx: glctx}
}

func (b *contextBridge) ResolveContext(kind ContextKind) (Context, bool) {
	switch kind {
	case ContextKindGLDisplay:
		Logger().Debug("mediasink: answering display query", "platform", b.display.Platform)
		return Context{Kind: kind, Display: b.display}, true
	case ContextKindAppContext:
		Logger().Debug("mediasink: answering app context query")
		return Context{Kind: kind, Display: b.display, GL: b.glctx, Wrapped: true}, true
	default:
		return Context{}, false
	}
}
