package mediasink

import (
	"log/slog"
	"sync"
)

// Option configures a Subsystem before its first Init.
type Option func(*Subsystem)

// WithPlatform supplies the GL platform. Without it Init loads the native
// OpenGL library, which cannot create shared contexts.
func WithPlatform(p Platform) Option {
	return func(s *Subsystem) { s.platform = p }
}

// WithConfig replaces the default configuration.
func WithConfig(c *Config) Option {
	return func(s *Subsystem) {
		if c != nil {
			s.config = c
		}
	}
}

// WithLogger installs l as the package logger during Init.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subsystem) { s.logger = l }
}

// Subsystem is the reference-counted process-wide media setup. Every Init
// must be balanced by a Quit; the last Quit destroys any sinks still alive.
type Subsystem struct {
	mu       sync.Mutex
	refs     int
	platform Platform
	config   *Config
	logger   *slog.Logger
	lastErr  string
	sinks    map[*Sink]struct{}

	ownsPlatform bool
}

// NewSubsystem creates an uninitialized subsystem.
func NewSubsystem(opts ...Option) *Subsystem {
	s := &Subsystem{
		config: DefaultConfig(),
		sinks:  make(map[*Sink]struct{}),
	}
	s.apply(opts)
	return s
}

func (s *Subsystem) apply(opts []Option) {
	for _, opt := range opts {
		opt(s)
	}
}

// Init takes a reference, performing setup on the first one.
func (s *Subsystem) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs > 0 {
		s.refs++
		return nil
	}

	if err := s.config.Validate(); err != nil {
		return s.failLocked(errorf("init", KindInvalidArgument, "invalid config: %w", err))
	}
	if s.logger != nil {
		SetLogger(s.logger)
	}
	setNativeLibraryDir(s.config.Native.LibraryPath)

	if s.platform == nil {
		p, err := NewNativePlatform(s.config.Native.GLLibrary)
		if err != nil {
			return s.failLocked(errorf("init", KindInvalidArgument, "load OpenGL: %w", err))
		}
		s.platform = p
		s.ownsPlatform = true
	}

	s.refs = 1
	Logger().Info("mediasink: initialized")
	return nil
}

// Quit drops a reference. The last one destroys remaining sinks.
func (s *Subsystem) Quit() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return
	}
	leftover := make([]*Sink, 0, len(s.sinks))
	for sink := range s.sinks {
		leftover = append(leftover, sink)
	}
	s.sinks = make(map[*Sink]struct{})
	if s.ownsPlatform {
		s.platform = nil
		s.ownsPlatform = false
	}
	s.mu.Unlock()

	for _, sink := range leftover {
		if err := sink.destroy(); err != nil {
			Logger().Warn("mediasink: destroying leftover sink", "error", err)
		}
	}
	Logger().Info("mediasink: shut down", "sinks_destroyed", len(leftover))
}

// Initialized reports whether Init has been called more often than Quit.
func (s *Subsystem) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs > 0
}

// Config returns the active configuration.
func (s *Subsystem) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// LastError returns the message of the most recent failed operation.
// Every failure overwrites it.
func (s *Subsystem) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// CreateSink binds a new sink to surface and ctx. A nil target means the
// whole surface.
func (s *Subsystem) CreateSink(surface Surface, ctx GLContext, target *Rect) (*Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return nil, s.failLocked(errorf("create", KindInvalidArgument, "media subsystem not initialized"))
	}
	sink, err := newSink(s, surface, ctx, target)
	if err != nil {
		return nil, s.failLocked(err)
	}
	s.sinks[sink] = struct{}{}
	return sink, nil
}

// DestroySink releases sink and its pipeline.
func (s *Subsystem) DestroySink(sink *Sink) error {
	if sink == nil {
		return s.fail(errorf("destroy", KindInvalidArgument, "invalid media sink"))
	}
	if err := sink.destroy(); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	delete(s.sinks, sink)
	s.mu.Unlock()
	return nil
}

// fail records err as the last error and returns it unchanged.
func (s *Subsystem) fail(err error) error {
	if err == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(err)
}

func (s *Subsystem) failLocked(err error) error {
	s.lastErr = err.Error()
	Logger().Debug("mediasink: operation failed", "error", err)
	return err
}

var defaultSubsystem = NewSubsystem()

// Default returns the process-wide subsystem used by the package-level
// functions.
func Default() *Subsystem { return defaultSubsystem }

// Init takes a reference on the default subsystem. Options apply only when
// it is not yet initialized.
func Init(opts ...Option) error {
	s := defaultSubsystem
	s.mu.Lock()
	if s.refs == 0 {
		s.apply(opts)
	}
	s.mu.Unlock()
	return s.Init()
}

// Quit drops a reference on the default subsystem.
func Quit() { defaultSubsystem.Quit() }

// LastError returns the default subsystem's last error message.
func LastError() string { return defaultSubsystem.LastError() }

// CreateSink creates a sink on the default subsystem.
func CreateSink(surface Surface, ctx GLContext, target *Rect) (*Sink, error) {
	return defaultSubsystem.CreateSink(surface, ctx, target)
}

// DestroySink destroys a sink created on the default subsystem.
func DestroySink(sink *Sink) error { return defaultSubsystem.DestroySink(sink) }
