package mediasink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// FLV video tag constants
const (
	flvCodecAVC          = 7
	flvFrameKey          = 1
	flvAVCSequenceHeader = 0
	flvAVCNALU           = 1
)

var errPublisherGone = errors.New("rtmp: publisher disconnected")

// rtmpFeed runs an RTMP server that accepts a single publisher for one
// app/key pair and turns its FLV AVC tags into Annex-B access units.
type rtmpFeed struct {
	addr string
	app  string
	key  string

	mu        sync.Mutex
	ln        net.Listener
	conns     map[net.Conn]struct{}
	publisher *rtmpHandler
	closed    bool
	wg        sync.WaitGroup
}

func newRTMPFeed(loc *remoteLocator) (*rtmpFeed, error) {
	p := strings.Trim(loc.url.Path, "/")
	app, key := path.Split(p)
	app = strings.Trim(app, "/")
	if app == "" || key == "" {
		return nil, fmt.Errorf("rtmp uri %q must be rtmp://host:port/app/key", loc.url.String())
	}
	addr := loc.url.Host
	if loc.url.Port() == "" {
		addr = net.JoinHostPort(loc.url.Hostname(), "1935")
	}
	return &rtmpFeed{addr: addr, app: app, key: key}, nil
}

func (f *rtmpFeed) open(ctx context.Context, out *frameEmitter) error {
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return fmt.Errorf("rtmp: listen %s: %w", f.addr, err)
	}

	log := rtmpLogger()
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			f.track(conn)
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{feed: f, out: out, conn: conn},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
				Logger: log,
			}
		},
	})

	f.mu.Lock()
	f.ln, f.closed = ln, false
	f.conns = make(map[net.Conn]struct{})
	f.publisher = nil
	f.mu.Unlock()

	Logger().Info("mediasink: rtmp listening", "addr", ln.Addr().String(), "app", f.app, "key", f.key)

	stop := context.AfterFunc(ctx, func() { f.close() })
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer stop()
		if err := srv.Serve(ln); err != nil && !f.isClosed() {
			out.fail(fmt.Errorf("rtmp: serve: %w", err))
		}
	}()
	return nil
}

func (f *rtmpFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *rtmpFeed) track(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		conn.Close()
		return
	}
	f.conns[conn] = struct{}{}
}

func (f *rtmpFeed) untrack(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, conn)
}

// claim makes h the publisher. Only one publisher is accepted at a time.
func (f *rtmpFeed) claim(h *rtmpHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher != nil {
		return fmt.Errorf("rtmp: %s/%s already has a publisher", f.app, f.key)
	}
	f.publisher = h
	return nil
}

func (f *rtmpFeed) release(h *rtmpHandler) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher != h {
		return false
	}
	f.publisher = nil
	return !f.closed
}

// localAddr returns the listening address while the feed is open.
func (f *rtmpFeed) localAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

func (f *rtmpFeed) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.wg.Wait()
		return nil
	}
	f.closed = true
	ln := f.ln
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for conn := range conns {
		conn.Close()
	}
	f.wg.Wait()
	return err
}

// rtmpHandler handles one RTMP connection.
type rtmpHandler struct {
	rtmp.DefaultHandler
	feed *rtmpFeed
	out  *frameEmitter
	conn net.Conn

	app        string
	publishing bool
	sps, pps   []byte
}

func (h *rtmpHandler) OnConnect(_ uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.app = strings.Trim(cmd.Command.App, "/")
	if h.app != h.feed.app {
		return fmt.Errorf("rtmp: unknown app %q", h.app)
	}
	return nil
}

func (h *rtmpHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if cmd.PublishingName != h.feed.key {
		return fmt.Errorf("rtmp: unknown stream key %q", cmd.PublishingName)
	}
	if err := h.feed.claim(h); err != nil {
		return err
	}
	h.publishing = true
	Logger().Info("mediasink: rtmp publisher connected", "app", h.app, "key", cmd.PublishingName,
		"remote", h.conn.RemoteAddr().String())
	return nil
}

func (h *rtmpHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if !h.publishing {
		return nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	data := buf.Bytes()
	if len(data) < 5 {
		return nil
	}

	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != flvCodecAVC {
		return nil
	}

	avcData := data[5:]
	switch data[1] {
	case flvAVCSequenceHeader:
		h.sps, h.pps = extractSPSPPS(avcData)

	case flvAVCNALU:
		if h.sps == nil {
			return nil
		}
		nalus := parseAVCCNALUs(avcData)
		if len(nalus) == 0 {
			return nil
		}
		isKey := frameType == flvFrameKey
		ft := FrameTypeDelta
		if isKey {
			ft = FrameTypeKey
		}
		h.out.push(&EncodedFrame{
			Data:      buildAnnexB(nalus, h.sps, h.pps, isKey),
			FrameType: ft,
			Timestamp: timestamp * 90, // ms to 90kHz
		})
	}
	return nil
}

func (h *rtmpHandler) OnClose() {
	h.feed.untrack(h.conn)
	if h.publishing && h.feed.release(h) {
		Logger().Info("mediasink: rtmp publisher disconnected", "app", h.app, "key", h.feed.key)
		h.out.fail(errPublisherGone)
	}
}

// extractSPSPPS reads the first SPS and PPS from an AVCDecoderConfigurationRecord.
func extractSPSPPS(data []byte) (sps, pps []byte) {
	if len(data) < 8 {
		return
	}
	offset := 5
	numSPS := int(data[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return nil, nil
		}
		if sps == nil {
			sps = append([]byte(nil), data[offset:offset+length]...)
		}
		offset += length
	}

	if offset >= len(data) {
		return nil, nil
	}
	numPPS := int(data[offset])
	offset++

	for i := 0; i < numPPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			break
		}
		if pps == nil {
			pps = append([]byte(nil), data[offset:offset+length]...)
		}
		offset += length
	}
	if pps == nil {
		return nil, nil
	}
	return sps, pps
}

// parseAVCCNALUs splits 4-byte length-prefixed NAL units.
func parseAVCCNALUs(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus
}

// buildAnnexB joins NAL units with start codes, prepending SPS/PPS on
// keyframes.
func buildAnnexB(nalus [][]byte, sps, pps []byte, isKey bool) []byte {
	sc := []byte{0, 0, 0, 1}
	var out []byte

	if isKey && sps != nil && pps != nil {
		out = append(out, sc...)
		out = append(out, sps...)
		out = append(out, sc...)
		out = append(out, pps...)
	}
	for _, nalu := range nalus {
		out = append(out, sc...)
		out = append(out, nalu...)
	}
	return out
}

// rtmpLogger returns a logrus logger for go-rtmp that forwards to the
// package slog logger.
func rtmpLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.AddHook(slogHook{})
	return l
}

// slogHook forwards logrus entries to Logger().
type slogHook struct{}

func (slogHook) Levels() []logrus.Level { return logrus.AllLevels }

func (slogHook) Fire(e *logrus.Entry) error {
	level := slog.LevelDebug
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		level = slog.LevelError
	case logrus.WarnLevel:
		level = slog.LevelWarn
	}
	attrs := make([]any, 0, 2*len(e.Data)+2)
	attrs = append(attrs, "component", "rtmp")
	for k, v := range e.Data {
		attrs = append(attrs, k, v)
	}
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	Logger().Log(ctx, level, e.Message, attrs...)
	return nil
}
