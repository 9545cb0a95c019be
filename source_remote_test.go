package mediasink

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// fakeFeed hands its emitter to the test instead of reading the network.
type fakeFeed struct {
	openErr error

	mu      sync.Mutex
	out     *frameEmitter
	opens   int
	closes  int
	keyReqs atomic.Int32
}

func (f *fakeFeed) open(_ context.Context, out *frameEmitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.out = out
	f.opens++
	return nil
}

func (f *fakeFeed) close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeFeed) requestKeyframe() { f.keyReqs.Add(1) }

func (f *fakeFeed) emitter() *frameEmitter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out
}

func keyFrame(ts uint32) *EncodedFrame {
	return &EncodedFrame{Data: []byte{0}, FrameType: FrameTypeKey, Timestamp: ts}
}

func deltaFrame(ts uint32) *EncodedFrame {
	return &EncodedFrame{Data: []byte{1}, FrameType: FrameTypeDelta, Timestamp: ts}
}

func startRemote(t *testing.T) (*remoteSource, *fakeFeed, *fakeDecoder) {
	t.Helper()
	feed := &fakeFeed{}
	dec := &fakeDecoder{codec: VideoCodecVP8, w: 4, h: 2}
	src := newRemoteSource(SourceTypeRTP, VideoCodecVP8, dec, feed, Unbounded)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src, feed, dec
}

func readFrame(t *testing.T, src *remoteSource) (*VideoFrame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return src.ReadFrame(ctx)
}

func TestRemoteSource_WaitsForKeyframe(t *testing.T) {
	src, feed, dec := startRemote(t)
	out := feed.emitter()

	out.push(deltaFrame(1))
	out.push(deltaFrame(2))
	out.push(keyFrame(3))
	out.push(deltaFrame(4))

	for i := 0; i < 2; i++ {
		frame, err := readFrame(t, src)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if frame.Width != 4 || frame.Height != 2 {
			t.Errorf("frame = %dx%d", frame.Width, frame.Height)
		}
	}

	decoded, _, _ := dec.stats()
	if len(decoded) != 2 || decoded[0].Timestamp != 3 || decoded[1].Timestamp != 4 {
		t.Errorf("decoded timestamps = %v", timestamps(decoded))
	}
	// Two skipped deltas inside one request interval ask once.
	if n := feed.keyReqs.Load(); n != 1 {
		t.Errorf("keyframe requests = %d, want 1", n)
	}
	if cfg := src.Config(); cfg.Width != 4 || cfg.Height != 2 || cfg.Format != PixelFormatI420 || cfg.SourceType != SourceTypeRTP {
		t.Errorf("config = %+v", cfg)
	}
}

func timestamps(frames []*EncodedFrame) []uint32 {
	ts := make([]uint32, len(frames))
	for i, f := range frames {
		ts[i] = f.Timestamp
	}
	return ts
}

func TestRemoteSource_DropForcesKeyframe(t *testing.T) {
	src, feed, dec := startRemote(t)
	out := feed.emitter()

	out.push(keyFrame(1))
	if _, err := readFrame(t, src); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	// Overflow the queue: the overflowing frame is dropped.
	for i := 0; i < cap(out.frames)+1; i++ {
		out.push(deltaFrame(uint32(10 + i)))
	}
	if !out.dropped.Load() {
		t.Fatal("overflow not flagged")
	}
	// Drain the queued deltas; none may reach the decoder.
	for len(out.frames) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		src.ReadFrame(ctx)
		cancel()
	}
	out.push(keyFrame(100))
	if _, err := readFrame(t, src); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	decoded, _, _ := dec.stats()
	if got := timestamps(decoded); len(got) != 2 || got[1] != 100 {
		t.Errorf("decoded timestamps = %v, want [1 100]", got)
	}
}

func TestRemoteSource_DecodeErrorResets(t *testing.T) {
	src, feed, dec := startRemote(t)
	out := feed.emitter()

	dec.setErr(errors.New("corrupt"))
	out.push(keyFrame(1))
	out.push(deltaFrame(2))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	if _, err := src.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadFrame = %v, want deadline", err)
	}
	cancel()

	dec.setErr(nil)
	out.push(keyFrame(3))
	if _, err := readFrame(t, src); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	decoded, resets, _ := dec.stats()
	// Start resets once, the failed decode once more.
	if resets != 2 {
		t.Errorf("resets = %d, want 2", resets)
	}
	if got := timestamps(decoded); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("decoded timestamps = %v, want [1 3]", got)
	}
}

func TestRemoteSource_FeedErrors(t *testing.T) {
	src, feed, _ := startRemote(t)
	feed.emitter().fail(io.EOF)
	feed.emitter().fail(errors.New("ignored"))

	if _, err := readFrame(t, src); err != io.EOF {
		t.Errorf("ReadFrame = %v, want io.EOF", err)
	}
}

func TestRemoteSource_Lifecycle(t *testing.T) {
	feed := &fakeFeed{}
	dec := &fakeDecoder{codec: VideoCodecH264}
	src := newRemoteSource(SourceTypeRTMP, VideoCodecH264, dec, feed, Unbounded)

	if _, err := src.ReadFrame(context.Background()); err != errSourceNotStarted {
		t.Errorf("ReadFrame before Start = %v", err)
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, closed := dec.stats(); !closed {
		t.Error("decoder not closed")
	}
	if feed.opens != 1 || feed.closes != 1 {
		t.Errorf("feed opens=%d closes=%d, want 1/1", feed.opens, feed.closes)
	}

	failing := newRemoteSource(SourceTypeWHEP, VideoCodecVP8, &fakeDecoder{}, &fakeFeed{openErr: errors.New("refused")}, Unbounded)
	if err := failing.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("Start with failing feed = %v", err)
	}
}

func TestParseRemoteLocator(t *testing.T) {
	tests := []struct {
		in    string
		codec VideoCodec
		pt    int
	}{
		{"rtp://0.0.0.0:5004", VideoCodecVP8, -1},
		{"rtp://127.0.0.1:5004?codec=h264&pt=102", VideoCodecH264, 102},
		{"rtp://[::1]:5004?codec=video/VP9", VideoCodecVP9, -1},
		{"rtmp://0.0.0.0:1935/live/key", VideoCodecH264, -1},
		{"rtmp://0.0.0.0/live/key?codec=h264", VideoCodecH264, -1},
		{"whep://media.example.org/whep/room1", VideoCodecVP8, -1},
		{"wheps://media.example.org/whep/room1?codec=h264&pt=0", VideoCodecH264, 0},
	}

	for _, tt := range tests {
		loc, err := parseRemoteLocator(tt.in)
		if err != nil {
			t.Errorf("parseRemoteLocator(%q): %v", tt.in, err)
			continue
		}
		if loc.codec != tt.codec || loc.payloadType != tt.pt {
			t.Errorf("parseRemoteLocator(%q) = %v pt %d, want %v pt %d", tt.in, loc.codec, loc.payloadType, tt.codec, tt.pt)
		}
	}
}

func TestParseRemoteLocator_Invalid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rtp:///nohost", "no host"},
		{"srt://host:9000", "unsupported remote scheme"},
		{"rtp://host:5004?codec=av1", "unsupported video codec"},
		{"rtmp://host/live/key?codec=vp8", "only carries H264"},
		{"rtp://host:5004?pt=128", "invalid payload type"},
		{"rtp://host:5004?pt=x", "invalid payload type"},
		{"://bad", "invalid remote uri"},
	}

	for _, tt := range tests {
		_, err := parseRemoteLocator(tt.in)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("parseRemoteLocator(%q) error = %v, want %q", tt.in, err, tt.want)
		}
	}
}

func TestBuildRemote_DecoderMissing(t *testing.T) {
	withDecoder(t, VideoCodecVP9, nil)

	el := NewPresentationElement("remote", nil, NewCaps(8, 8, Unbounded), nil)
	_, err := buildRemote(el, el.Caps(), "rtp://127.0.0.1:0?codec=vp9")
	if err == nil || !strings.HasPrefix(err.Error(), "rtpsrc: no decoder registered") {
		t.Errorf("error = %v", err)
	}

	_, err = buildRemote(el, el.Caps(), "rtmp://127.0.0.1:1935/onlyapp")
	if err == nil || !strings.Contains(err.Error(), "app/key") {
		t.Errorf("rtmp without key: %v", err)
	}
}

// vp8Packet returns an RTP packet carrying one whole VP8 frame.
func vp8Packet(seq uint16, ts uint32, key bool) []byte {
	header := byte(0x01)
	if key {
		header = 0x00
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0x1234,
		},
		// Descriptor with the start-of-partition bit, then the frame.
		Payload: []byte{0x10, header, 0x2d, 0x01, 0x00},
	}
	b, err := pkt.Marshal()
	if err != nil {
		panic(err)
	}
	return b
}

func sendVP8(t *testing.T, addr net.Addr, frames int, pt uint8) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	for i := 0; i < frames; i++ {
		b := vp8Packet(uint16(i), uint32(i)*3000, i == 0)
		b[1] = (b[1] & 0x80) | pt
		if _, err := conn.Write(b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestRTPFeed_Loopback(t *testing.T) {
	loc, err := parseRemoteLocator("rtp://127.0.0.1:0?codec=vp8&pt=96")
	if err != nil {
		t.Fatal(err)
	}
	feed := newRTPFeed(loc, DefaultConfig().Remote)
	out := newFrameEmitter(32)
	if err := feed.open(context.Background(), out); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer feed.close()

	// Packets with a foreign payload type are ignored.
	sendVP8(t, feed.localAddr(), 3, 100)
	sendVP8(t, feed.localAddr(), 5, 96)

	// A frame is complete once the next one starts, so five frames yield four.
	var got []*EncodedFrame
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case f := <-out.frames:
			got = append(got, f)
		case err := <-out.errs:
			t.Fatalf("feed error: %v", err)
		case <-timeout:
			t.Fatalf("received %d frames, want 4", len(got))
		}
	}
	if got[0].FrameType != FrameTypeKey || got[1].FrameType != FrameTypeDelta {
		t.Errorf("frame types = %v, %v", got[0].FrameType, got[1].FrameType)
	}
	if got[1].Timestamp != 3000 {
		t.Errorf("second timestamp = %d, want 3000", got[1].Timestamp)
	}

	if err := feed.close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if feed.localAddr() != nil {
		t.Error("address still reported after close")
	}
	select {
	case err := <-out.errs:
		t.Errorf("close reported %v", err)
	default:
	}
}

func TestRTPFeed_ContextCancel(t *testing.T) {
	loc, _ := parseRemoteLocator("rtp://127.0.0.1:0")
	feed := newRTPFeed(loc, DefaultConfig().Remote)
	ctx, cancel := context.WithCancel(context.Background())
	if err := feed.open(ctx, newFrameEmitter(1)); err != nil {
		t.Fatalf("open: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		feed.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close blocked after cancel")
	}
}

func freeUDPPort(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

func TestSink_PlaysRTPStream(t *testing.T) {
	withDecoder(t, VideoCodecVP8, func(VideoDecoderConfig) (VideoDecoder, error) {
		return &fakeDecoder{codec: VideoCodecVP8, w: 8, h: 6}, nil
	})

	addr := freeUDPPort(t)
	env := newTestEnv(t, 16, 12)
	s := env.newSink(t, nil)
	if err := s.Attach(SourceDescriptor{Kind: MediaTypeRemote, Locator: "rtp://" + addr}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	udp, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	sendVP8(t, udp, 6, 96)
	waitFor(t, 2*time.Second, "decoded frames presented", func() bool {
		return s.Stats().FramesPresented >= 3
	})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n := env.log.count("TexSubImage2D(16,12,768)"); n < 3 {
		t.Errorf("uploads = %d, want >= 3", n)
	}
}

func TestRemoteSource_PacesToFramerate(t *testing.T) {
	feed := &fakeFeed{}
	dec := &fakeDecoder{codec: VideoCodecVP8, w: 4, h: 2}
	src := newRemoteSource(SourceTypeRTP, VideoCodecVP8, dec, feed, Framerate{Num: 10, Den: 1})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()
	out := feed.emitter()

	// 40 frames over about 400ms, four times the negotiated rate.
	go func() {
		out.push(keyFrame(0))
		for i := 1; i < 40; i++ {
			time.Sleep(10 * time.Millisecond)
			out.push(deltaFrame(uint32(i)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	var delivered []time.Time
	for {
		if _, err := src.ReadFrame(ctx); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("ReadFrame: %v", err)
			}
			break
		}
		delivered = append(delivered, time.Now())
	}

	if n := len(delivered); n < 3 || n > 6 {
		t.Errorf("delivered %d frames at 10/1 in 450ms, want 3 to 6", n)
	}
	for i := 1; i < len(delivered); i++ {
		if gap := delivered[i].Sub(delivered[i-1]); gap < 60*time.Millisecond {
			t.Errorf("frames %d and %d only %v apart", i-1, i, gap)
		}
	}
	// Early frames are still decoded so later deltas stay valid.
	if decoded, _, _ := dec.stats(); len(decoded) <= len(delivered) {
		t.Errorf("decoded %d frames, delivered %d", len(decoded), len(delivered))
	}
}
