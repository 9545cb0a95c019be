package mediasink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// State is the state of a pipeline graph.
type State int

const (
	StateNull    State = iota // No resources held
	StateReady                // Contexts resolved, element ready for upload
	StatePaused               // Source running, streaming thread parked
	StatePlaying              // Frames flowing to the draw callback
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Graph is a built pipeline: a source feeding a PresentationElement.
type Graph interface {
	// SetState moves the whole graph to target, passing through every
	// intermediate state. It returns once target is committed.
	SetState(target State) error

	// State returns the last committed state.
	State() State

	// Bus returns the graph's message bus.
	Bus() *Bus

	// Close forces the graph to StateNull, closes its bus and releases it.
	Close() error
}

// MessageType classifies bus messages.
type MessageType int

const (
	MessageError MessageType = iota
	MessageWarning
	MessageEOS
	MessageStateChanged
)

func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageEOS:
		return "eos"
	case MessageStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Message is posted on a Bus by a graph or its elements.
type Message struct {
	Type   MessageType
	Source string
	Err    error // MessageError and MessageWarning
	Old    State // MessageStateChanged
	New    State // MessageStateChanged
}

// Bus carries messages from the streaming side to the pipeline owner.
// Posting never blocks; messages are dropped when the bus is full or closed.
type Bus struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewBus creates a bus buffering up to size messages.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 32
	}
	return &Bus{ch: make(chan Message, size)}
}

// Post queues m. It reports false if the message was dropped.
func (b *Bus) Post(m Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- m:
		return true
	default:
		return false
	}
}

// Messages returns the receive side. It is closed when the bus is closed.
func (b *Bus) Messages() <-chan Message {
	return b.ch
}

// Close closes the bus. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// streamGraph drives a VideoSource into a PresentationElement on a single
// streaming goroutine.
type streamGraph struct {
	name    string
	source  VideoSource
	convert *frameConverter
	element *PresentationElement
	bus     *Bus

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewStreamGraph wires source to el. Frames that do not match el's caps are
// converted to RGBA at the caps size using mode.
func NewStreamGraph(name string, source VideoSource, el *PresentationElement, mode ScaleMode) Graph {
	g := &streamGraph{
		name:    name,
		source:  source,
		convert: newFrameConverter(el.Caps(), mode),
		element: el,
		bus:     NewBus(64),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *streamGraph) Bus() *Bus { return g.bus }

func (g *streamGraph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *streamGraph) SetState(target State) error {
	if target < StateNull || target > StatePlaying {
		return fmt.Errorf("%s: invalid target state %d", g.name, target)
	}
	g.mu.Lock()
	if g.closed && target != StateNull {
		g.mu.Unlock()
		return fmt.Errorf("%s: graph closed", g.name)
	}
	g.mu.Unlock()

	for {
		cur := g.State()
		if cur == target {
			return nil
		}
		next := cur + 1
		if target < cur {
			next = cur - 1
		}
		if err := g.transition(cur, next); err != nil {
			return fmt.Errorf("%s: %s -> %s: %w", g.name, cur, next, err)
		}
		g.bus.Post(Message{Type: MessageStateChanged, Source: g.name, Old: cur, New: next})
	}
}

func (g *streamGraph) transition(from, to State) error {
	switch {
	case from == StateNull && to == StateReady:
		if err := g.element.start(); err != nil {
			return err
		}
		g.setState(StateReady)

	case from == StateReady && to == StatePaused:
		ctx, cancel := context.WithCancel(context.Background())
		if err := g.source.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start source: %w", err)
		}
		g.mu.Lock()
		g.ctx, g.cancel = ctx, cancel
		g.state = StatePaused
		g.mu.Unlock()
		g.wg.Add(1)
		go g.streamLoop(ctx)

	case from == StatePaused && to == StatePlaying:
		g.setState(StatePlaying)

	case from == StatePlaying && to == StatePaused:
		g.setState(StatePaused)

	case from == StatePaused && to == StateReady:
		g.mu.Lock()
		cancel := g.cancel
		g.state = StateReady
		g.cond.Broadcast()
		g.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		g.wg.Wait()
		if err := g.source.Stop(); err != nil {
			Logger().Warn("mediasink: source stop failed", "graph", g.name, "error", err)
		}

	case from == StateReady && to == StateNull:
		g.setState(StateNull)
		if err := g.element.stop(); err != nil {
			Logger().Warn("mediasink: element stop failed", "graph", g.name, "error", err)
		}

	default:
		return fmt.Errorf("unsupported transition")
	}
	return nil
}

func (g *streamGraph) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.cond.Broadcast()
	g.mu.Unlock()
}

// waitPlaying parks the streaming goroutine while the graph is paused. It
// reports false once the graph is shutting down.
func (g *streamGraph) waitPlaying(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.state == StatePaused && ctx.Err() == nil {
		g.cond.Wait()
	}
	return ctx.Err() == nil && g.state == StatePlaying
}

func (g *streamGraph) streamLoop(ctx context.Context) {
	defer g.wg.Done()

	for {
		if !g.waitPlaying(ctx) {
			return
		}

		frame, err := g.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				g.bus.Post(Message{Type: MessageEOS, Source: g.name})
			} else {
				g.bus.Post(Message{Type: MessageError, Source: g.name, Err: err})
			}
			return
		}

		frame, err = g.convert.convert(frame)
		if err != nil {
			g.bus.Post(Message{Type: MessageWarning, Source: g.name, Err: err})
			continue
		}

		// A pause that arrived while reading holds the frame until resumed.
		if !g.waitPlaying(ctx) {
			return
		}
		if err := g.element.render(frame); err != nil {
			g.bus.Post(Message{Type: MessageWarning, Source: g.name, Err: err})
		}
	}
}

func (g *streamGraph) Close() error {
	err := g.SetState(StateNull)
	g.mu.Lock()
	already := g.closed
	g.closed = true
	g.mu.Unlock()
	if already {
		return err
	}
	g.bus.Close()
	if cerr := g.source.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
