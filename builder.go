package mediasink

import "sync"

// MediaType selects the builder used for a source descriptor.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeTestPattern
	MediaTypeRemote
	MediaTypeFile
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeTestPattern:
		return "test-pattern"
	case MediaTypeRemote:
		return "remote"
	case MediaTypeFile:
		return "file"
	default:
		return "unknown"
	}
}

// needsLocator reports whether descriptors of this type must name a source.
func (m MediaType) needsLocator() bool {
	return m == MediaTypeRemote || m == MediaTypeFile
}

// SourceDescriptor says what to attach to a sink.
type SourceDescriptor struct {
	Kind      MediaType
	Locator   string     // URI or path; ignored for test patterns
	Framerate *Framerate // nil means unbounded (0/1)
}

// Builder constructs a graph ending in el for caps. On error it must have
// released everything it created.
type Builder interface {
	Build(el *PresentationElement, caps Caps, locator string) (Graph, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(el *PresentationElement, caps Caps, locator string) (Graph, error)

func (f BuilderFunc) Build(el *PresentationElement, caps Caps, locator string) (Graph, error) {
	return f(el, caps, locator)
}

type builderRegistry struct {
	builders map[MediaType]Builder
	mu       sync.RWMutex
}

var globalBuilderRegistry = &builderRegistry{
	builders: make(map[MediaType]Builder),
}

// RegisterBuilder installs b for kind, replacing any previous builder.
func RegisterBuilder(kind MediaType, b Builder) {
	globalBuilderRegistry.mu.Lock()
	defer globalBuilderRegistry.mu.Unlock()
	globalBuilderRegistry.builders[kind] = b
}

// IsBuilderAvailable reports whether a builder is registered for kind.
func IsBuilderAvailable(kind MediaType) bool {
	_, ok := lookupBuilder(kind)
	return ok
}

func lookupBuilder(kind MediaType) (Builder, bool) {
	globalBuilderRegistry.mu.RLock()
	defer globalBuilderRegistry.mu.RUnlock()
	b, ok := globalBuilderRegistry.builders[kind]
	return b, ok
}

// newSourceGraph wraps source in a stream graph using the element's scale
// mode.
func newSourceGraph(name string, el *PresentationElement, source VideoSource) Graph {
	mode, err := ParseScaleMode(el.Config().Stream.ScaleMode)
	if err != nil {
		mode = ScaleModeFit
	}
	return NewStreamGraph(name, source, el, mode)
}
