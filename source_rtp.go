package mediasink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

// rtpFeed receives one RTP video stream on a UDP socket.
type rtpFeed struct {
	addr        string
	codec       VideoCodec
	payloadType int
	maxLate     uint16
	readBuffer  int

	mu   sync.Mutex
	conn *net.UDPConn
	wg   sync.WaitGroup
}

func newRTPFeed(loc *remoteLocator, cfg RemoteConfig) *rtpFeed {
	return &rtpFeed{
		addr:        loc.url.Host,
		codec:       loc.codec,
		payloadType: loc.payloadType,
		maxLate:     cfg.MaxLate,
		readBuffer:  cfg.ReadBuffer,
	}
}

func (f *rtpFeed) open(ctx context.Context, out *frameEmitter) error {
	depacketizer, err := newDepacketizer(f.codec)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", f.addr)
	if err != nil {
		return fmt.Errorf("rtp: resolve %s: %w", f.addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("rtp: listen %s: %w", f.addr, err)
	}
	if err := conn.SetReadBuffer(f.readBuffer * 16); err != nil {
		Logger().Debug("mediasink: rtp socket buffer not applied", "error", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	Logger().Info("mediasink: rtp listening", "addr", conn.LocalAddr().String(), "codec", f.codec)

	sb := samplebuilder.New(f.maxLate, depacketizer, f.codec.ClockRate())
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer stop()
		f.readLoop(ctx, conn, sb, out)
	}()
	return nil
}

func (f *rtpFeed) readLoop(ctx context.Context, conn *net.UDPConn, sb *samplebuilder.SampleBuilder, out *frameEmitter) {
	buf := make([]byte, f.readBuffer)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				out.fail(fmt.Errorf("rtp: read: %w", err))
			}
			return
		}

		// The sample builder keeps packets, so they must not alias buf.
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			Logger().Debug("mediasink: dropping malformed rtp packet", "error", err)
			continue
		}
		if f.payloadType >= 0 && int(pkt.PayloadType) != f.payloadType {
			continue
		}

		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			out.push(&EncodedFrame{
				Data:      s.Data,
				FrameType: detectFrameType(f.codec, s.Data),
				Timestamp: s.PacketTimestamp,
			})
		}
	}
}

// localAddr returns the bound address while the feed is open.
func (f *rtpFeed) localAddr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	return f.conn.LocalAddr()
}

func (f *rtpFeed) close() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	f.wg.Wait()
	return err
}
