package media

import "context"

// FakeEngine is a deterministic, in-memory Engine used by callcontrol's
// tests to drive the offer/answer/ICE-restart state machine without a
// real peer connection.
type FakeEngine struct {
	Events Events

	state            SignalingState
	IceServersSet    [][]IceServer
	OfferCalls       int
	AnswerCalls      int
	RemoteDescs      []SessionDescription
	Rollbacks        int
	IceCandidates    []IceCandidate
	Closed           bool
	AudioEnabled     bool
	VideoEnabled     bool

	// CreateOfferErr/CreateAnswerErr, if set, are returned by the
	// corresponding call instead of succeeding.
	CreateOfferErr  error
	CreateAnswerErr error

	// NextOfferSdp/NextAnswerSdp let tests control the SDP string returned.
	NextOfferSdp  string
	NextAnswerSdp string
}

// NewFakeEngine returns a FakeEngine starting in the stable state.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{state: SignalingStateStable, AudioEnabled: true, VideoEnabled: true}
}

var _ Engine = (*FakeEngine)(nil)

func (f *FakeEngine) SetEvents(ev Events) { f.Events = ev }

func (f *FakeEngine) SetIceServers(servers []IceServer) {
	f.IceServersSet = append(f.IceServersSet, servers)
}

func (f *FakeEngine) StartLocalMedia(ctx context.Context, audioEnabled, videoEnabled bool) error {
	f.AudioEnabled = audioEnabled
	f.VideoEnabled = videoEnabled
	return nil
}

func (f *FakeEngine) SignalingState() SignalingState { return f.state }

// SetSignalingState lets a test move the fake engine's state and fire the
// registered OnSignalingStateChange callback, mirroring what a real engine
// bridge delivers.
func (f *FakeEngine) SetSignalingState(s SignalingState) {
	f.state = s
	if f.Events.OnSignalingStateChange != nil {
		f.Events.OnSignalingStateChange(s)
	}
}

func (f *FakeEngine) CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error) {
	f.OfferCalls++
	if f.CreateOfferErr != nil {
		return SessionDescription{}, f.CreateOfferErr
	}
	f.state = SignalingStateHaveLocalOffer
	sdp := f.NextOfferSdp
	if sdp == "" {
		sdp = "offer-sdp"
	}
	return SessionDescription{Type: SdpTypeOffer, Sdp: sdp}, nil
}

func (f *FakeEngine) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	f.AnswerCalls++
	if f.CreateAnswerErr != nil {
		return SessionDescription{}, f.CreateAnswerErr
	}
	f.state = SignalingStateStable
	sdp := f.NextAnswerSdp
	if sdp == "" {
		sdp = "answer-sdp"
	}
	return SessionDescription{Type: SdpTypeAnswer, Sdp: sdp}, nil
}

func (f *FakeEngine) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	f.RemoteDescs = append(f.RemoteDescs, desc)
	if desc.Type == SdpTypeAnswer {
		f.state = SignalingStateStable
	}
	return nil
}

func (f *FakeEngine) RollbackLocalDescription(ctx context.Context) error {
	f.Rollbacks++
	f.state = SignalingStateStable
	return nil
}

func (f *FakeEngine) AddIceCandidate(ctx context.Context, c IceCandidate) error {
	f.IceCandidates = append(f.IceCandidates, c)
	return nil
}

func (f *FakeEngine) GetStats(ctx context.Context) (Stats, error) { return Stats{}, nil }

func (f *FakeEngine) SetAudioEnabled(enabled bool) { f.AudioEnabled = enabled }
func (f *FakeEngine) SetVideoEnabled(enabled bool) { f.VideoEnabled = enabled }

func (f *FakeEngine) Close() { f.Closed = true }

// HasRemoteDescription reports whether SetRemoteDescription has been
// called at least once, mirroring the "remoteDescSet" flag the real
// engine needs for ICE-candidate buffering decisions.
func (f *FakeEngine) HasRemoteDescription() bool { return len(f.RemoteDescs) > 0 }
