package mediasink

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// keyframeRequestInterval limits how often a waiting source asks its feed
// for a new keyframe.
const keyframeRequestInterval = 500 * time.Millisecond

// encodedFeed delivers encoded access units from the network.
type encodedFeed interface {
	// open starts receiving. Frames and terminal errors go to out until ctx
	// is cancelled or close is called.
	open(ctx context.Context, out *frameEmitter) error
	close() error
}

// keyframeRequester is implemented by feeds that can ask the sender for a
// keyframe.
type keyframeRequester interface {
	requestKeyframe()
}

// frameEmitter is the feed side of a remote source. Pushing never blocks;
// frames are dropped when the source is not keeping up.
type frameEmitter struct {
	frames  chan *EncodedFrame
	errs    chan error
	dropped atomic.Bool
}

func newFrameEmitter(queue int) *frameEmitter {
	return &frameEmitter{
		frames: make(chan *EncodedFrame, queue),
		errs:   make(chan error, 1),
	}
}

func (e *frameEmitter) push(f *EncodedFrame) {
	select {
	case e.frames <- f:
	default:
		e.dropped.Store(true)
	}
}

// fail reports a terminal stream error. Only the first one is kept.
func (e *frameEmitter) fail(err error) {
	select {
	case e.errs <- err:
	default:
	}
}

// remoteSource decodes an encoded feed into raw frames.
type remoteSource struct {
	typ     SourceType
	codec   VideoCodec
	decoder VideoDecoder
	feed    encodedFeed
	rate    Framerate

	mu      sync.Mutex
	running bool
	out     *frameEmitter
	width   int
	height  int

	// Streaming goroutine only
	needKey    bool
	lastKeyReq time.Time
	nextOut    time.Time
}

func newRemoteSource(typ SourceType, codec VideoCodec, dec VideoDecoder, feed encodedFeed, rate Framerate) *remoteSource {
	return &remoteSource{typ: typ, codec: codec, decoder: dec, feed: feed, rate: rate}
}

// Start opens the feed. Decoding waits for the first keyframe.
func (s *remoteSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("source already running")
	}
	if err := s.decoder.Reset(); err != nil {
		Logger().Debug("mediasink: decoder reset failed", "codec", s.codec, "error", err)
	}
	out := newFrameEmitter(32)
	if err := s.feed.open(ctx, out); err != nil {
		return err
	}
	s.out = out
	s.needKey = true
	s.lastKeyReq = time.Time{}
	s.nextOut = time.Time{}
	s.running = true
	return nil
}

// Stop closes the feed.
func (s *remoteSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.feed.close()
}

// Close stops the source and releases the decoder.
func (s *remoteSource) Close() error {
	err := s.Stop()
	if cerr := s.decoder.Close(); err == nil {
		err = cerr
	}
	return err
}

// Config returns the source configuration. The size is known once the
// first frame has been decoded.
func (s *remoteSource) Config() SourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceConfig{
		Width:      s.width,
		Height:     s.height,
		Framerate:  s.rate,
		Format:     PixelFormatI420,
		SourceType: s.typ,
	}
}

// ReadFrame returns the next decoded frame. Feed errors are returned as is,
// so io.EOF ends the stream.
func (s *remoteSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errSourceNotStarted
	}
	out := s.out
	s.mu.Unlock()

	for {
		var enc *EncodedFrame
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-out.errs:
			return nil, err
		case enc = <-out.frames:
		}

		if out.dropped.Swap(false) {
			s.needKey = true
		}
		if s.needKey {
			if !enc.IsKeyframe() {
				s.requestKeyframe()
				continue
			}
			s.needKey = false
		}

		frame, err := s.decoder.Decode(enc)
		if err != nil {
			Logger().Warn("mediasink: decode failed, waiting for keyframe", "codec", s.codec, "error", err)
			if rerr := s.decoder.Reset(); rerr != nil {
				return nil, fmt.Errorf("%s decoder: %w", s.codec, rerr)
			}
			s.needKey = true
			continue
		}
		if frame == nil || s.early() {
			continue
		}

		s.mu.Lock()
		s.width, s.height = frame.Width, frame.Height
		s.mu.Unlock()
		return frame, nil
	}
}

// early reports whether a decoded frame arrived ahead of its slot at the
// negotiated framerate and should be dropped. Slots are spaced one interval
// apart, with an eighth of an interval of slack for network jitter.
func (s *remoteSource) early() bool {
	if s.rate.IsUnbounded() {
		return false
	}
	interval := s.rate.Interval()
	now := time.Now()
	if !s.nextOut.IsZero() && now.Before(s.nextOut.Add(-interval/8)) {
		return true
	}
	s.nextOut = s.nextOut.Add(interval)
	if s.nextOut.Before(now) {
		s.nextOut = now.Add(interval)
	}
	return false
}

func (s *remoteSource) requestKeyframe() {
	kr, ok := s.feed.(keyframeRequester)
	if !ok {
		return
	}
	if now := time.Now(); now.Sub(s.lastKeyReq) >= keyframeRequestInterval {
		s.lastKeyReq = now
		kr.requestKeyframe()
	}
}

// remoteLocator is a parsed remote source URI.
type remoteLocator struct {
	url         *url.URL
	codec       VideoCodec
	payloadType int // negative accepts any payload type
}

func parseRemoteLocator(locator string) (*remoteLocator, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid remote uri %q: %w", locator, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote uri %q has no host", locator)
	}

	loc := &remoteLocator{url: u, payloadType: -1}
	q := u.Query()

	switch strings.ToLower(u.Scheme) {
	case "rtmp":
		loc.codec = VideoCodecH264
		if c := q.Get("codec"); c != "" {
			codec, err := ParseVideoCodec(c)
			if err != nil {
				return nil, err
			}
			if codec != VideoCodecH264 {
				return nil, fmt.Errorf("rtmp ingest only carries H264, got %s", codec)
			}
		}
	case "rtp", "whep", "wheps":
		loc.codec = VideoCodecVP8
		if c := q.Get("codec"); c != "" {
			if loc.codec, err = ParseVideoCodec(c); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}

	if pt := q.Get("pt"); pt != "" {
		n, err := strconv.Atoi(pt)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("invalid payload type %q", pt)
		}
		loc.payloadType = n
	}
	return loc, nil
}

func buildRemote(el *PresentationElement, caps Caps, locator string) (Graph, error) {
	loc, err := parseRemoteLocator(locator)
	if err != nil {
		return nil, err
	}
	cfg := el.Config()

	var (
		name string
		typ  SourceType
		feed encodedFeed
	)
	switch strings.ToLower(loc.url.Scheme) {
	case "rtp":
		name, typ = "rtpsrc", SourceTypeRTP
		feed = newRTPFeed(loc, cfg.Remote)
	case "rtmp":
		name, typ = "rtmpsrc", SourceTypeRTMP
		if feed, err = newRTMPFeed(loc); err != nil {
			return nil, err
		}
	default:
		name, typ = "whepsrc", SourceTypeWHEP
		feed = newWHEPFeed(loc, cfg.Remote)
	}

	dec, err := NewVideoDecoder(VideoDecoderConfig{Codec: loc.codec, Threads: cfg.Decoder.Threads})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	src := newRemoteSource(typ, loc.codec, dec, feed, caps.Framerate)
	return newSourceGraph(name, el, src), nil
}

func init() {
	RegisterBuilder(MediaTypeRemote, BuilderFunc(buildRemote))
}
