package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/logger"
)

// PionEngine is the default Engine implementation, built on pion/webrtc/v4.
// It is grounded in the teacher's internal/call/session.go ExternalPC:
// same MediaEngine/API construction, same OnICECandidate /
// OnConnectionStateChange / OnTrack wiring, same recvonly-transceiver
// fallback when local capture is unavailable. Unlike the teacher (which
// captures camera/mic itself via pion/mediadevices), local media capture
// here is left to the embedder: StartLocalMedia only ensures the PC has at
// least one m-line of each kind so offer/answer negotiation is always
// possible (spec §4.2.1 step 5's "subject to permission + defaults").
type PionEngine struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection

	events Events

	audioEnabled bool
	videoEnabled bool
	audioSender  *webrtc.RTPSender
	videoSender  *webrtc.RTPSender

	// pendingIceServers holds a list passed to SetIceServers while a PC
	// already exists (e.g. after a TURN fetch). It is not applied to that
	// PC: offers, including ICE-restart offers, keep the servers the PC was
	// created with. It is only used if StartLocalMedia creates a new PC
	// after Close.
	pendingIceServers []webrtc.ICEServer

	// lastStatsAt/lastBytesReceived back GetStats's bitrate-over-time
	// calculation across calls (StatsSampler's ticker).
	lastStatsAt       time.Time
	lastBytesReceived uint64
}

// NewPionEngine constructs a PionEngine with no peer connection yet; the
// connection is created lazily on the first SetIceServers/StartLocalMedia
// call so the caller can register events first.
func NewPionEngine() *PionEngine {
	return &PionEngine{audioEnabled: true, videoEnabled: true}
}

var _ Engine = (*PionEngine)(nil)

func (e *PionEngine) SetEvents(ev Events) {
	e.mu.Lock()
	e.events = ev
	e.mu.Unlock()
}

func (e *PionEngine) ensurePC(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc != nil {
		return e.pc, nil
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		e.mu.Lock()
		onIce := e.events.OnIceCandidate
		e.mu.Unlock()
		if onIce == nil {
			return
		}
		init := c.ToJSON()
		var sdpMid *string
		if init.SDPMid != nil {
			v := *init.SDPMid
			sdpMid = &v
		}
		var idx *uint16
		if init.SDPMLineIndex != nil {
			v := *init.SDPMLineIndex
			idx = &v
		}
		onIce(IceCandidate{Candidate: init.Candidate, SdpMid: sdpMid, SdpMLineIndex: idx})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.mu.Lock()
		onConn := e.events.OnConnectionStateChange
		e.mu.Unlock()
		if onConn != nil {
			onConn(mapConnectionState(state))
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.mu.Lock()
		onIce := e.events.OnIceConnectionStateChange
		e.mu.Unlock()
		if onIce != nil {
			onIce(mapIceConnectionState(state))
		}
	})

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		e.mu.Lock()
		onSig := e.events.OnSignalingStateChange
		e.mu.Unlock()
		if onSig != nil {
			onSig(mapSignalingState(state))
		}
	})

	pc.OnNegotiationNeeded(func() {
		e.mu.Lock()
		onNeg := e.events.OnRenegotiationNeeded
		e.mu.Unlock()
		if onNeg != nil {
			onNeg()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Get().Debug("remote track added", zap.String("kind", track.Kind().String()))
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		e.mu.Lock()
		onTrack := e.events.OnRemoteTrack
		e.mu.Unlock()
		if onTrack != nil {
			onTrack(true)
		}
	})

	e.pc = pc
	return pc, nil
}

func (e *PionEngine) SetIceServers(servers []IceServer) {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		if _, err := e.ensurePC(iceServers); err != nil {
			logger.Get().Error("ensurePC for SetIceServers failed", zap.Error(err))
		}
		return
	}
	// The PC already exists: the list is stored in e.pendingIceServers but
	// not applied to the live PC, so later offers (ICE restarts included)
	// keep the servers the PC was created with.
	e.mu.Lock()
	e.pendingIceServers = iceServers
	e.mu.Unlock()
}

func (e *PionEngine) StartLocalMedia(ctx context.Context, audioEnabled, videoEnabled bool) error {
	pc, err := e.ensurePC(e.currentIceServers())
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.audioEnabled = audioEnabled
	e.videoEnabled = videoEnabled
	e.mu.Unlock()

	// Recvonly transceivers so CreateOffer/CreateAnswer always produce
	// valid m-lines with ICE credentials, matching the teacher's fallback
	// for when GetUserMedia fails (session.go initExternalPC). PionEngine
	// does not expose its PeerConnection, so no local track can be
	// attached; this engine only guarantees negotiability.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	return nil
}

func (e *PionEngine) currentIceServers() []webrtc.ICEServer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingIceServers
}

func (e *PionEngine) SignalingState() SignalingState {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return SignalingStateStable
	}
	return mapSignalingState(pc.SignalingState())
}

func (e *PionEngine) CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error) {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return SessionDescription{}, fmt.Errorf("peer connection not initialized")
	}

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return SessionDescription{}, fmt.Errorf("set local description (offer): %w", err)
	}
	return SessionDescription{Type: SdpTypeOffer, Sdp: offer.SDP}, nil
}

func (e *PionEngine) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return SessionDescription{}, fmt.Errorf("peer connection not initialized")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, fmt.Errorf("set local description (answer): %w", err)
	}
	return SessionDescription{Type: SdpTypeAnswer, Sdp: answer.SDP}, nil
}

func (e *PionEngine) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("peer connection not initialized")
	}

	sdpType := webrtc.SDPTypeOffer
	if desc.Type == SdpTypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.Sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (e *PionEngine) RollbackLocalDescription(ctx context.Context) error {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (e *PionEngine) AddIceCandidate(ctx context.Context, c IceCandidate) error {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("peer connection not initialized")
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SdpMid,
		SDPMLineIndex: c.SdpMLineIndex,
	})
}

// GetStats walks pion's StatsReport for the nominated candidate pair's
// round-trip time and the inbound audio/video stream's loss, jitter, and
// received-bytes-over-time bitrate, the same report types the teacher's
// PeerConnection.GetStats switches over.
func (e *PionEngine) GetStats(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	pc := e.pc
	lastAt := e.lastStatsAt
	lastBytes := e.lastBytesReceived
	e.mu.Unlock()
	if pc == nil {
		return Stats{}, nil
	}

	report := pc.GetStats()

	var out Stats
	var bytesReceived uint64
	haveInbound := false
	for _, stat := range report {
		switch s := stat.(type) {
		case *webrtc.ICECandidatePairStats:
			if s.Nominated && s.State == webrtc.StatsICECandidatePairStateSucceeded {
				out.RttMs = s.CurrentRoundTripTime * 1000
			}
		case *webrtc.InboundRTPStreamStats:
			haveInbound = true
			out.PacketsLost = int64(s.PacketsLost)
			out.JitterMs = s.Jitter * 1000
			bytesReceived += s.BytesReceived
		}
	}

	now := time.Now()
	if haveInbound && !lastAt.IsZero() && bytesReceived >= lastBytes {
		elapsed := now.Sub(lastAt).Seconds()
		if elapsed > 0 {
			out.BitrateKbps = float64(bytesReceived-lastBytes) * 8 / 1000 / elapsed
		}
	}

	e.mu.Lock()
	e.lastStatsAt = now
	e.lastBytesReceived = bytesReceived
	e.mu.Unlock()

	return out, nil
}

func (e *PionEngine) SetAudioEnabled(enabled bool) {
	e.mu.Lock()
	e.audioEnabled = enabled
	e.mu.Unlock()
}

func (e *PionEngine) SetVideoEnabled(enabled bool) {
	e.mu.Lock()
	e.videoEnabled = enabled
	e.mu.Unlock()
}

func (e *PionEngine) Close() {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

func mapConnectionState(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnectionStateNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}

func mapIceConnectionState(s webrtc.ICEConnectionState) IceConnectionState {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return IceConnectionStateNew
	case webrtc.ICEConnectionStateChecking:
		return IceConnectionStateChecking
	case webrtc.ICEConnectionStateConnected:
		return IceConnectionStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return IceConnectionStateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return IceConnectionStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return IceConnectionStateFailed
	case webrtc.ICEConnectionStateClosed:
		return IceConnectionStateClosed
	default:
		return IceConnectionStateNew
	}
}

func mapSignalingState(s webrtc.SignalingState) SignalingState {
	switch s {
	case webrtc.SignalingStateStable:
		return SignalingStateStable
	case webrtc.SignalingStateHaveLocalOffer:
		return SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return SignalingStateHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return SignalingStateClosed
	default:
		return SignalingStateStable
	}
}
