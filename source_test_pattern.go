package mediasink

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternNoise                           // Random noise
	PatternMovingBox                       // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "color-bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternSolidColor:
		return "solid"
	case PatternNoise:
		return "noise"
	case PatternMovingBox:
		return "moving-box"
	default:
		return "unknown"
	}
}

// ParsePatternType parses the names returned by PatternType.String.
// Empty means color bars.
func ParsePatternType(s string) (PatternType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "color-bars", "smpte":
		return PatternColorBars, nil
	case "gradient":
		return PatternGradient, nil
	case "checkerboard":
		return PatternCheckerboard, nil
	case "solid":
		return PatternSolidColor, nil
	case "noise":
		return PatternNoise, nil
	case "moving-box", "ball":
		return PatternMovingBox, nil
	default:
		return PatternColorBars, fmt.Errorf("invalid test pattern: %q", s)
	}
}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width     int         // Frame width (default: 640)
	Height    int         // Frame height (default: 480)
	Framerate Framerate   // Frame rate; unbounded generates on every read
	Pattern   PatternType // Pattern type (default: ColorBars)
	Animated  bool        // Regenerate static patterns every frame (MovingBox/Noise always animate)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 32)
}

// TestPatternSource generates synthetic RGBA frames.
type TestPatternSource struct {
	config TestPatternConfig

	// Frame buffer, regenerated in place for animated patterns
	pix []byte

	frameDuration time.Duration
	frameCount    uint64
	startTime     time.Time
	nextFrame     time.Time
	running       bool

	// Random state for noise pattern
	rngState uint64

	mu sync.Mutex
}

// NewTestPatternSource creates a new test pattern video source.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 480
	}
	if !config.Framerate.Valid() {
		config.Framerate = Unbounded
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}

	s := &TestPatternSource{
		config:        config,
		pix:           make([]byte, config.Width*config.Height*4),
		frameDuration: config.Framerate.Interval(),
		rngState:      uint64(time.Now().UnixNano()) | 1,
	}
	s.generatePattern(0)
	return s
}

// Start begins generating frames.
func (s *TestPatternSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("source already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.nextFrame = s.startTime
	s.frameCount = 0
	return nil
}

// Stop stops generating frames.
func (s *TestPatternSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Close closes the source.
func (s *TestPatternSource) Close() error {
	return s.Stop()
}

// ReadFrame waits for the next frame slot and returns the frame. With an
// unbounded framerate it returns immediately.
func (s *TestPatternSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errSourceNotStarted
	}
	wait := time.Until(s.nextFrame)
	s.mu.Unlock()

	if s.frameDuration > 0 && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frameNum := s.frameCount
	s.frameCount++
	if s.frameDuration > 0 {
		s.nextFrame = s.nextFrame.Add(s.frameDuration)
		// Skip slots missed by a slow consumer instead of bursting.
		if now := time.Now(); s.nextFrame.Before(now) {
			s.nextFrame = now
		}
	}

	if frameNum > 0 && (s.config.Animated || s.config.Pattern == PatternMovingBox || s.config.Pattern == PatternNoise) {
		s.generatePattern(frameNum)
	}

	timestamp := time.Since(s.startTime).Nanoseconds()
	if s.frameDuration > 0 {
		timestamp = int64(frameNum) * s.frameDuration.Nanoseconds()
	}
	return &VideoFrame{
		Data:      [][]byte{s.pix},
		Stride:    []int{s.config.Width * 4},
		Width:     s.config.Width,
		Height:    s.config.Height,
		Format:    PixelFormatRGBA32,
		Timestamp: timestamp,
		Duration:  s.frameDuration.Nanoseconds(),
	}, nil
}

// Config returns the source configuration.
func (s *TestPatternSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.config.Width,
		Height:     s.config.Height,
		Framerate:  s.config.Framerate,
		Format:     PixelFormatRGBA32,
		SourceType: SourceTypeTestPattern,
	}
}

func (s *TestPatternSource) generatePattern(frameNum uint64) {
	switch s.config.Pattern {
	case PatternColorBars:
		s.generateColorBars()
	case PatternGradient:
		s.generateGradient()
	case PatternCheckerboard:
		s.generateCheckerboard()
	case PatternSolidColor:
		s.fill(s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternNoise:
		s.generateNoise()
	case PatternMovingBox:
		s.generateMovingBox(frameNum)
	default:
		s.generateColorBars()
	}
}

func (s *TestPatternSource) set(x, y int, r, g, b uint8) {
	i := (y*s.config.Width + x) * 4
	s.pix[i+0] = r
	s.pix[i+1] = g
	s.pix[i+2] = b
	s.pix[i+3] = 0xff
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPatternSource) generateColorBars() {
	w, h := s.config.Width, s.config.Height
	barWidth := max(w/8, 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			s.set(x, y, rgb[0], rgb[1], rgb[2])
		}
	}
}

func (s *TestPatternSource) generateGradient() {
	w, h := s.config.Width, s.config.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			s.set(x, y, v, v, v)
		}
	}
}

func (s *TestPatternSource) generateCheckerboard() {
	w, h := s.config.Width, s.config.Height
	size := s.config.CheckerSize
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				v = 235
			}
			s.set(x, y, v, v, v)
		}
	}
}

func (s *TestPatternSource) fill(r, g, b uint8) {
	for i := 0; i < len(s.pix); i += 4 {
		s.pix[i+0] = r
		s.pix[i+1] = g
		s.pix[i+2] = b
		s.pix[i+3] = 0xff
	}
}

func (s *TestPatternSource) generateNoise() {
	// xorshift64, grayscale
	for i := 0; i < len(s.pix); i += 4 {
		s.rngState ^= s.rngState << 13
		s.rngState ^= s.rngState >> 7
		s.rngState ^= s.rngState << 17
		v := uint8(s.rngState)
		s.pix[i+0] = v
		s.pix[i+1] = v
		s.pix[i+2] = v
		s.pix[i+3] = 0xff
	}
}

func (s *TestPatternSource) generateMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height
	s.fill(16, 16, 16)

	// Box circles the center
	boxSize := max(min(w, h)/5, 1)
	radius := float64(min(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			s.set(x, y, 235, 235, 235)
		}
	}
}

func buildTestPattern(el *PresentationElement, caps Caps, _ string) (Graph, error) {
	if caps.Width <= 0 || caps.Height <= 0 {
		return nil, fmt.Errorf("videotestsrc: invalid size %dx%d", caps.Width, caps.Height)
	}
	pattern, err := ParsePatternType(el.Config().Stream.TestPattern)
	if err != nil {
		return nil, fmt.Errorf("videotestsrc: %w", err)
	}
	src := NewTestPatternSource(TestPatternConfig{
		Width:     caps.Width,
		Height:    caps.Height,
		Framerate: caps.Framerate,
		Pattern:   pattern,
	})
	return newSourceGraph("videotestsrc", el, src), nil
}

func init() {
	RegisterBuilder(MediaTypeTestPattern, BuilderFunc(buildTestPattern))
}
