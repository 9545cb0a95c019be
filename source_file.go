package mediasink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// FileSource plays a YUV4MPEG2 file or shows a still (or animated GIF) image.
//
// Y4M files are paced at the requested framerate, or at the file's own rate
// when unbounded, and end with io.EOF. Images repeat at the requested rate;
// with an unbounded rate a still image is delivered once and then held.
type FileSource struct {
	path string
	rate Framerate

	// Image sources: decoded frames and per-frame delays (GIF)
	images []*VideoFrame
	delays []time.Duration

	// Y4M sources
	file   *os.File
	y4m    *y4mReader
	header y4mHeader

	mu        sync.Mutex
	running   bool
	index     int
	nextFrame time.Time
	frameNum  int64
}

// NewFileSource opens path to check it can be played. Images are decoded
// up front; Y4M files are reopened on every Start.
func NewFileSource(path string, rate Framerate) (*FileSource, error) {
	s := &FileSource{path: path, rate: rate}

	if isY4M(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("filesrc: %w", err)
		}
		defer f.Close()
		r, err := newY4MReader(f)
		if err != nil {
			return nil, fmt.Errorf("filesrc: %s: %w", path, err)
		}
		s.header = r.header
		return s, nil
	}

	if err := s.decodeImage(); err != nil {
		return nil, fmt.Errorf("filesrc: %s: %w", path, err)
	}
	return s, nil
}

func isY4M(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".y4m" || ext == ".yuv4mpeg"
}

func (s *FileSource) decodeImage() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if err := checkFrameSize(cfg.Width, cfg.Height); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(s.path), ".gif") {
		g, err := gif.DecodeAll(f)
		if err != nil {
			return err
		}
		s.decodeGIF(g)
		return nil
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return err
	}
	s.images = []*VideoFrame{imageToFrame(img)}
	s.delays = []time.Duration{0}
	return nil
}

// decodeGIF composites every GIF frame onto a full-size canvas.
func (s *FileSource) decodeGIF(g *gif.GIF) {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		s.images = append(s.images, imageToFrame(canvas))

		delay := 100 * time.Millisecond
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		s.delays = append(s.delays, delay)

		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalBackground {
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}
}

// imageToFrame copies img into a tightly packed RGBA frame.
func imageToFrame(img image.Image) *VideoFrame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &VideoFrame{
		Data:   [][]byte{dst.Pix},
		Stride: []int{dst.Stride},
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: PixelFormatRGBA32,
	}
}

// Start begins playback from the start of the file.
func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("source already running")
	}

	if isY4M(s.path) {
		f, err := os.Open(s.path)
		if err != nil {
			return fmt.Errorf("filesrc: %w", err)
		}
		r, err := newY4MReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("filesrc: %s: %w", s.path, err)
		}
		s.file, s.y4m = f, r
	}

	s.running = true
	s.index = 0
	s.frameNum = 0
	s.nextFrame = time.Now()
	return nil
}

// Stop halts playback and closes the file.
func (s *FileSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file, s.y4m = nil, nil
	}
	return err
}

// Close closes the source.
func (s *FileSource) Close() error { return s.Stop() }

// Config returns the source configuration.
func (s *FileSource) Config() SourceConfig {
	cfg := SourceConfig{Framerate: s.rate, SourceType: SourceTypeFile}
	if isY4M(s.path) {
		cfg.Width, cfg.Height = s.header.Width, s.header.Height
		cfg.Format = PixelFormatI420
		if s.rate.IsUnbounded() {
			cfg.Framerate = s.header.Framerate
		}
	} else if len(s.images) > 0 {
		cfg.Width, cfg.Height = s.images[0].Width, s.images[0].Height
		cfg.Format = PixelFormatRGBA32
	}
	return cfg
}

// frameInterval returns how long frame i stays on screen. Zero means no
// pacing.
func (s *FileSource) frameInterval(i int) time.Duration {
	if !s.rate.IsUnbounded() {
		return s.rate.Interval()
	}
	if isY4M(s.path) {
		return s.header.Framerate.Interval()
	}
	if i < len(s.delays) {
		return s.delays[i]
	}
	return 0
}

// ReadFrame returns the next frame once its presentation time arrives.
func (s *FileSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errSourceNotStarted
	}
	wait := time.Until(s.nextFrame)
	still := !isY4M(s.path) && len(s.images) == 1 && s.rate.IsUnbounded()
	held := still && s.frameNum > 0
	s.mu.Unlock()

	// A still image shown once is held until the graph shuts down.
	if held {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, errSourceNotStarted
	}

	var frame *VideoFrame
	var interval time.Duration
	if s.y4m != nil {
		f, err := s.y4m.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("filesrc: %s: %w", s.path, err)
		}
		frame = f
		interval = s.frameInterval(0)
	} else {
		if len(s.images) == 0 {
			return nil, io.EOF
		}
		frame = s.images[s.index]
		interval = s.frameInterval(s.index)
		s.index = (s.index + 1) % len(s.images)
	}

	ts := int64(0)
	if interval > 0 {
		ts = s.frameNum * interval.Nanoseconds()
		s.nextFrame = s.nextFrame.Add(interval)
		if now := time.Now(); s.nextFrame.Before(now) {
			s.nextFrame = now
		}
	}
	s.frameNum++

	out := *frame
	out.Timestamp = ts
	out.Duration = interval.Nanoseconds()
	return &out, nil
}

// filePathFromLocator accepts a plain path or a file:// URI.
func filePathFromLocator(locator string) (string, error) {
	if !strings.HasPrefix(locator, "file:") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("filesrc: invalid uri %q: %w", locator, err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("filesrc: uri %q has no path", locator)
	}
	return u.Path, nil
}

func buildFile(el *PresentationElement, caps Caps, locator string) (Graph, error) {
	path, err := filePathFromLocator(locator)
	if err != nil {
		return nil, err
	}
	src, err := NewFileSource(path, caps.Framerate)
	if err != nil {
		return nil, err
	}
	return newSourceGraph("filesrc", el, src), nil
}

func init() {
	RegisterBuilder(MediaTypeFile, BuilderFunc(buildFile))
}
