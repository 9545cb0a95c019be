package mediasink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

const whepMaxAnswerSize = 1 << 20

// whepFeed pulls one video track from a WHEP endpoint with a recv-only
// peer connection.
type whepFeed struct {
	endpoint    string
	codec       VideoCodec
	payloadType int
	iceServers  []string
	timeout     time.Duration
	pliInterval time.Duration
	maxLate     uint16
	client      *http.Client

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	resource string
	closed   bool
	ssrc     atomic.Uint32
	wg       sync.WaitGroup
}

func newWHEPFeed(loc *remoteLocator, cfg RemoteConfig) *whepFeed {
	u := *loc.url
	u.Scheme = "http"
	if strings.EqualFold(loc.url.Scheme, "wheps") {
		u.Scheme = "https"
	}
	q := u.Query()
	q.Del("codec")
	q.Del("pt")
	u.RawQuery = q.Encode()

	return &whepFeed{
		endpoint:    u.String(),
		codec:       loc.codec,
		payloadType: loc.payloadType,
		iceServers:  cfg.ICEServers,
		timeout:     cfg.WHEPTimeout,
		pliInterval: cfg.KeyframeInterval,
		maxLate:     cfg.MaxLate,
		client:      &http.Client{Timeout: cfg.WHEPTimeout},
	}
}

func (f *whepFeed) newAPI() (*webrtc.API, error) {
	pt := f.payloadType
	if pt < 0 {
		pt = int(f.codec.DefaultPayloadType())
	}
	capability := webrtc.RTPCodecCapability{
		MimeType:  f.codec.MimeType(),
		ClockRate: f.codec.ClockRate(),
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
			{Type: "ccm", Parameter: "fir"},
		},
	}
	if f.codec == VideoCodecH264 {
		capability.SDPFmtpLine = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: capability,
		PayloadType:        webrtc.PayloadType(pt),
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

func (f *whepFeed) open(ctx context.Context, out *frameEmitter) error {
	api, err := f.newAPI()
	if err != nil {
		return fmt.Errorf("whep: media engine: %w", err)
	}

	var config webrtc.Configuration
	if len(f.iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: f.iceServers}}
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return fmt.Errorf("whep: peer connection: %w", err)
	}

	f.mu.Lock()
	f.pc, f.resource, f.closed = pc, "", false
	f.mu.Unlock()
	f.ssrc.Store(0)

	if err := f.negotiate(ctx, pc, out); err != nil {
		f.close()
		return err
	}
	Logger().Info("mediasink: whep session established", "endpoint", f.endpoint, "codec", f.codec)
	return nil
}

func (f *whepFeed) negotiate(ctx context.Context, pc *webrtc.PeerConnection, out *frameEmitter) error {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("whep: add transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		f.wg.Add(1)
		f.mu.Unlock()
		go f.readTrack(ctx, pc, track, out)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		Logger().Debug("mediasink: whep connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed && !f.isClosed() {
			out.fail(errors.New("whep: peer connection failed"))
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("whep: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("whep: set local description: %w", err)
	}

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		return fmt.Errorf("whep: ICE gathering timed out after %v", f.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, resource, err := f.exchange(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.resource = resource
	f.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("whep: set remote description: %w", err)
	}
	return nil
}

// exchange POSTs the offer and returns the answer and the session resource
// URL, if the server gave one.
func (f *whepFeed) exchange(ctx context.Context, offer string) (answer, resource string, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, strings.NewReader(offer))
	if err != nil {
		return "", "", fmt.Errorf("whep: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Accept", "application/sdp")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("whep: post offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, whepMaxAnswerSize))
	if err != nil {
		return "", "", fmt.Errorf("whep: read answer: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("whep: endpoint returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if len(body) == 0 {
		return "", "", errors.New("whep: empty answer")
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		if base, err := url.Parse(f.endpoint); err == nil {
			if ref, err := url.Parse(loc); err == nil {
				resource = base.ResolveReference(ref).String()
			}
		}
	}
	return string(body), resource, nil
}

func (f *whepFeed) readTrack(ctx context.Context, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, out *frameEmitter) {
	defer f.wg.Done()

	codec, err := ParseVideoCodec(track.Codec().MimeType)
	if err != nil || codec != f.codec {
		out.fail(fmt.Errorf("whep: unexpected track codec %s", track.Codec().MimeType))
		return
	}
	depacketizer, err := newDepacketizer(codec)
	if err != nil {
		out.fail(err)
		return
	}
	f.ssrc.Store(uint32(track.SSRC()))
	Logger().Info("mediasink: whep track started", "codec", codec, "ssrc", uint32(track.SSRC()))

	done := make(chan struct{})
	defer close(done)
	if f.pliInterval > 0 {
		go f.sendPLIs(pc, uint32(track.SSRC()), done)
	}

	sb := samplebuilder.New(f.maxLate, depacketizer, track.Codec().ClockRate)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if ctx.Err() == nil && !f.isClosed() {
				if errors.Is(err, io.EOF) {
					out.fail(io.EOF)
				} else {
					out.fail(fmt.Errorf("whep: read rtp: %w", err))
				}
			}
			return
		}
		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			out.push(&EncodedFrame{
				Data:      s.Data,
				FrameType: detectFrameType(codec, s.Data),
				Timestamp: s.PacketTimestamp,
			})
		}
	}
}

// sendPLIs asks the sender for a keyframe every pliInterval.
func (f *whepFeed) sendPLIs(pc *webrtc.PeerConnection, ssrc uint32, done <-chan struct{}) {
	ticker := time.NewTicker(f.pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				return
			}
		}
	}
}

func (f *whepFeed) requestKeyframe() {
	ssrc := f.ssrc.Load()
	f.mu.Lock()
	pc := f.pc
	f.mu.Unlock()
	if pc == nil || ssrc == 0 {
		return
	}
	if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		Logger().Debug("mediasink: whep keyframe request failed", "error", err)
	}
}

func (f *whepFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// close tears down the peer connection and deletes the session resource.
func (f *whepFeed) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	pc, resource := f.pc, f.resource
	f.pc = nil
	f.mu.Unlock()

	var err error
	if pc != nil {
		err = pc.Close()
	}
	f.wg.Wait()

	if resource != "" {
		f.deleteResource(resource)
	}
	return err
}

func (f *whepFeed) deleteResource(resource string) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		Logger().Debug("mediasink: whep session delete failed", "resource", resource, "error", err)
		return
	}
	resp.Body.Close()
}
