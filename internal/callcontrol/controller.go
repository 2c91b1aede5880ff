// Package callcontrol implements CallController, the central state
// machine that drives one call end to end: join sequencing, participant
// tracking, offer/answer/ICE exchange, TURN lifecycle, and cleanup
// (spec §4.2). Every mutation happens under a single mutex and every
// timer callback is fenced by joinAttemptSerial, generalizing the
// teacher's single-consumer dispatch loop (call.Manager.dispatchLoop)
// from one fixed channel to a mutex-guarded state machine driven by
// signaling, engine, and timer callbacks.
package callcontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/apiclient"
	"github.com/petervdpas/callcore/internal/callerr"
	"github.com/petervdpas/callcore/internal/clockwork"
	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/logger"
	"github.com/petervdpas/callcore/internal/media"
	"github.com/petervdpas/callcore/internal/proto"
	"github.com/petervdpas/callcore/internal/signaling"
	"github.com/petervdpas/callcore/internal/store"
	"github.com/petervdpas/callcore/internal/transport"
	"github.com/petervdpas/callcore/internal/uistate"
)

// EngineFactory builds a fresh Engine for one call attempt (spec §3
// "CallController reconstructs [the engine] on every joinRoom").
type EngineFactory func() media.Engine

// Controller is the call-control state machine. One Controller instance
// exists per client session; it creates and tears down a new
// media.Engine for every call attempt.
type Controller struct {
	sig        *signaling.Client
	newEngine  EngineFactory
	api        apiclient.ApiClient
	ui         *uistate.Store
	persisted  *store.Store
	clock      clockwork.Clock
	stunServers []media.IceServer

	joinAttemptSerial uint64

	cid    string
	roomID string
	host   string
	isHost bool

	engine       media.Engine
	statsSampler *media.StatsSampler

	participants         []proto.Participant
	lastParticipantCount int

	turnToken       string
	turnTokenTTL    time.Duration
	iceServersInUse []media.IceServer

	remoteDescriptionSet bool
	iceCandidateBuffer   []media.IceCandidate

	offerInFlight        bool
	offerCancel          context.CancelFunc
	lastIceRestartAt      time.Time
	nonHostFallbackTries int

	kickstartTimer   clockwork.Timer
	hardTimeoutTimer clockwork.Timer
	recoveryTimer    clockwork.Timer
	offerTimer       clockwork.Timer
	iceRestartTimer  clockwork.Timer
	fallbackTimer    clockwork.Timer
	turnRefreshTimer clockwork.Timer
}

// New builds a Controller. sig must not yet be connected; Controller
// owns its lifecycle from JoinRoom onward.
func New(sig *signaling.Client, newEngine EngineFactory, api apiclient.ApiClient, ui *uistate.Store, persisted *store.Store, clock clockwork.Clock, stunServers []media.IceServer) *Controller {
	c := &Controller{
		sig:         sig,
		newEngine:   newEngine,
		api:         api,
		ui:          ui,
		persisted:   persisted,
		clock:       clock,
		stunServers: stunServers,
	}
	sig.SetCurrentRoom(nil)
	sig.SetEvents(signaling.Events{
		OnMessage: c.HandleEnvelope,
		OnConnected: func(kind transport.Kind) {
			c.ui.Update(func(s uistate.State) uistate.State {
				s.IsSignalingConnected = true
				s.ActiveTransport = string(kind)
				s.IsReconnecting = false
				return s
			})
		},
		OnDisconnected: func(error) {
			c.ui.Update(func(s uistate.State) uistate.State {
				s.IsSignalingConnected = false
				return s
			})
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			c.ui.Update(func(s uistate.State) uistate.State {
				s.IsReconnecting = true
				return s
			})
		},
	})
	return c
}

// JoinRoom starts a new join attempt, superseding any call already in
// progress (spec §4.2.1 "single in-flight call"). Returns once the join
// sequence has been kicked off; success/failure surfaces through the
// UiState store.
func (c *Controller) JoinRoom(ctx context.Context, host, roomID string) {
	if c.api != nil && host != "" && (c.persisted == nil || host != c.persisted.DefaultHost()) {
		if err := c.api.CheckHealth(ctx, host); err != nil {
			c.ui.Update(func(s uistate.State) uistate.State {
				s.Phase = uistate.PhaseError
				s.ErrorMessage = fmt.Errorf("host unreachable: %w", err).Error()
				return s
			})
			return
		}
	}

	c.joinAttemptSerial++
	serial := c.joinAttemptSerial

	if c.engine != nil {
		c.engine.Close()
		c.engine = nil
	}
	c.stopAllTimers()
	c.stopStatsSampler()

	c.roomID = roomID
	c.host = host
	c.isHost = false
	c.participants = nil
	c.lastParticipantCount = 0
	c.offerInFlight = false
	c.nonHostFallbackTries = 0
	c.turnToken = ""
	c.remoteDescriptionSet = false
	c.iceCandidateBuffer = nil
	c.iceServersInUse = append([]media.IceServer{}, c.stunServers...)

	if c.cid == "" {
		c.cid = uuid.NewString()
	}

	c.engine = c.newEngine()
	c.engine.SetEvents(c.engineEvents(serial))
	c.engine.SetIceServers(c.iceServersInUse)

	c.ui.Update(func(s uistate.State) uistate.State {
		s.Phase = uistate.PhaseJoining
		s.RoomID = roomID
		s.ErrorMessage = ""
		s.StatusMessage = "connecting"
		return s
	})

	c.sig.SetCurrentRoom(&roomID)

	c.hardTimeoutTimer = c.clock.AfterFunc(constants.JoinHardTimeout, func() { c.onJoinHardTimeout(serial) })
	c.kickstartTimer = c.clock.AfterFunc(constants.JoinConnectKickstart, func() { c.onJoinKickstart(serial) })

	c.sig.Connect(ctx, host)

	if c.sig.IsConnected() {
		c.sendJoin(serial)
	}
}

// engineEvents builds the media.Events bridge for the given join
// attempt, fencing every callback by serial (spec §4.2.7).
func (c *Controller) engineEvents(serial uint64) media.Events {
	return media.Events{
		OnConnectionStateChange: func(s media.ConnectionState) {
			if c.joinAttemptSerial != serial {
				return
			}
			c.ui.Update(func(st uistate.State) uistate.State {
				st.ConnectionState = string(s)
				return st
			})
		},
		OnIceConnectionStateChange: func(s media.IceConnectionState) {
			if c.joinAttemptSerial != serial {
				return
			}
			c.ui.Update(func(st uistate.State) uistate.State {
				st.IceConnectionState = string(s)
				return st
			})
			c.onIceConnectionStateChange(serial, s)
		},
		OnSignalingStateChange: func(s media.SignalingState) {
			if c.joinAttemptSerial != serial {
				return
			}
			c.ui.Update(func(st uistate.State) uistate.State {
				st.SignalingState = string(s)
				return st
			})
		},
		OnIceCandidate: func(cand media.IceCandidate) {
			if c.joinAttemptSerial != serial {
				return
			}
			c.sendIceCandidate(cand)
		},
		OnRenegotiationNeeded: func() {
			if c.joinAttemptSerial != serial {
				return
			}
			c.maybeSendOffer(serial, false)
		},
		OnRemoteTrack: func(added bool) {
			if c.joinAttemptSerial != serial {
				return
			}
			c.ui.Update(func(st uistate.State) uistate.State {
				st.RemoteVideoEnabled = added
				return st
			})
		},
	}
}

func (c *Controller) sendJoin(serial uint64) {
	payload := proto.JoinPayload{
		Device:       "callcore-client",
		Capabilities: proto.JoinCapability{TrickleIce: true},
	}
	if c.persisted != nil {
		payload.ReconnectCid = c.persisted.ReconnectCid()
	}

	env := proto.Envelope{Type: proto.TypeJoin, Rid: &c.roomID, Cid: &c.cid}
	if err := proto.EncodePayload(&env, payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("encode join payload", zap.Error(err))
		return
	}
	if err := c.sig.Send(context.Background(), env); err != nil {
		logger.ForCall(c.roomID, serial).Debug("join send failed, will retry via kickstart/reconnect", zap.Error(err))
	}
}

func (c *Controller) onJoinKickstart(serial uint64) {
	if c.joinAttemptSerial != serial {
		return
	}
	if c.sig.IsConnected() {
		c.sendJoin(serial)
	}
}

func (c *Controller) onJoinHardTimeout(serial uint64) {
	if c.joinAttemptSerial != serial {
		return
	}
	logger.ForCall(c.roomID, serial).Warn("join hard timeout elapsed")
	c.failJoin(serial, callerr.ErrJoinTimeout)
}

func (c *Controller) failJoin(serial uint64, err error) {
	if c.joinAttemptSerial != serial {
		return
	}
	c.ui.Update(func(s uistate.State) uistate.State {
		s.Phase = uistate.PhaseError
		s.ErrorMessage = err.Error()
		return s
	})
	c.cleanup(serial)
}

// HandleEnvelope dispatches one inbound signaling message. It is meant
// to be registered as signaling.Events.OnMessage.
func (c *Controller) HandleEnvelope(env proto.Envelope) {
	serial := c.joinAttemptSerial
	switch env.Type {
	case proto.TypeJoined:
		c.onJoined(serial, env)
	case proto.TypeRoomState:
		c.onRoomState(serial, env)
	case proto.TypeRoomEnded:
		c.onRoomEnded(serial)
	case proto.TypeOffer:
		c.onRemoteOffer(serial, env)
	case proto.TypeAnswer:
		c.onRemoteAnswer(serial, env)
	case proto.TypeIce:
		c.onRemoteIce(serial, env)
	case proto.TypeTurnRefreshed:
		c.onTurnRefreshed(serial, env)
	case proto.TypeError:
		c.onServerError(serial, env)
	}
}

func (c *Controller) onJoined(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial {
		return
	}
	var payload proto.JoinedPayload
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode joined payload", zap.Error(err))
		return
	}

	if c.kickstartTimer != nil {
		c.kickstartTimer.Stop()
	}
	if c.hardTimeoutTimer != nil {
		c.hardTimeoutTimer.Stop()
	}

	c.applyRoomState(serial, payload.RoomState)

	if payload.ReconnectToken != "" && c.persisted != nil {
		if env.Cid != nil {
			_ = c.persisted.SetReconnectCid(*env.Cid)
		}
	}
	if payload.TurnToken != "" {
		c.applyTurnCredentials(serial, payload.TurnToken, time.Duration(payload.TurnTokenTTLMs)*time.Millisecond)
	}

	if c.persisted != nil {
		_ = c.persisted.AddRecentCall(store.RecentCall{RoomID: c.roomID, JoinedAt: c.clock.Now().UnixMilli()})
	}

	c.maybeSendOffer(serial, true)
}

func (c *Controller) onRoomState(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial {
		return
	}
	var payload proto.RoomState
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode room_state payload", zap.Error(err))
		return
	}
	c.applyRoomState(serial, payload)
	c.maybeSendOffer(serial, false)
}

func (c *Controller) applyRoomState(serial uint64, rs proto.RoomState) {
	c.participants = rs.Participants
	c.isHost = rs.ResolveHost() == c.cid

	count := max(1, len(rs.Participants))
	if c.lastParticipantCount > 1 && count <= 1 {
		c.resetForSoloParticipant(serial)
	}
	c.lastParticipantCount = count

	c.ui.Update(func(s uistate.State) uistate.State {
		s.ParticipantCount = count
		s.IsHost = c.isHost
		s.IsSignalingConnected = true
		if kind, ok := c.sig.ActiveKind(); ok {
			s.ActiveTransport = string(kind)
		}
		if count >= 2 {
			s.Phase = uistate.PhaseInCall
		} else {
			s.Phase = uistate.PhaseWaiting
		}
		return s
	})

	if count >= 2 {
		c.startStatsSampler()
	} else {
		c.stopStatsSampler()
	}

	if !c.isHost {
		c.scheduleNonHostFallback(serial)
	}
}

// startStatsSampler begins periodic GetStats polling once a call has at
// least two participants (spec §7 "realtimeStats while InCall").
func (c *Controller) startStatsSampler() {
	if c.statsSampler != nil || c.engine == nil {
		return
	}
	c.statsSampler = media.NewStatsSampler(c.engine, c.clock, 0, func(stats media.Stats) {
		snapshot := uistate.RealtimeStats(stats)
		c.ui.Update(func(s uistate.State) uistate.State {
			s.RealtimeStats = &snapshot
			return s
		})
	})
	c.statsSampler.Start()
}

func (c *Controller) stopStatsSampler() {
	if c.statsSampler != nil {
		c.statsSampler.Stop()
		c.statsSampler = nil
	}
}

// resetForSoloParticipant tears down and rebuilds the peer connection
// when the remote peer count drops back to 1 (spec §4.2.3 / Testable
// Scenario 6): a rejoining peer must not inherit stale offer, ICE, or
// buffering state from the prior session.
func (c *Controller) resetForSoloParticipant(serial uint64) {
	c.offerInFlight = false
	c.releaseOfferCtx()
	c.nonHostFallbackTries = 0
	c.remoteDescriptionSet = false
	c.iceCandidateBuffer = nil
	c.lastIceRestartAt = time.Time{}
	c.stopStatsSampler()

	if c.offerTimer != nil {
		c.offerTimer.Stop()
		c.offerTimer = nil
	}
	if c.iceRestartTimer != nil {
		c.iceRestartTimer.Stop()
		c.iceRestartTimer = nil
	}
	c.stopFallbackTimer()

	if c.engine != nil {
		c.engine.Close()
		c.engine = c.newEngine()
		c.engine.SetEvents(c.engineEvents(serial))
		c.engine.SetIceServers(c.iceServersInUse)
	}
}

func (c *Controller) onRoomEnded(serial uint64) {
	if c.joinAttemptSerial != serial {
		return
	}
	c.ui.Update(func(s uistate.State) uistate.State {
		s.Phase = uistate.PhaseEnding
		s.StatusMessage = "room ended"
		return s
	})
	c.cleanup(serial)
}

func (c *Controller) onServerError(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial {
		return
	}
	var payload proto.ErrorPayload
	_ = proto.DecodePayload(env, &payload)
	logger.ForCall(c.roomID, serial).Warn("server error envelope", zap.String("reason", payload.Reason))
	c.failJoin(serial, fmt.Errorf("%w: %s", callerr.ErrServerRejected, payload.Reason))
}

// LeaveRoom tears the current call down and notifies the server.
func (c *Controller) LeaveRoom() {
	serial := c.joinAttemptSerial
	if c.sig.IsConnected() && c.roomID != "" {
		env := proto.Envelope{Type: proto.TypeLeave, Rid: &c.roomID, Cid: &c.cid}
		_ = c.sig.Send(context.Background(), env)
	}
	c.cleanup(serial)
}

func (c *Controller) cleanup(serial uint64) {
	c.joinAttemptSerial++
	c.stopAllTimers()
	c.stopStatsSampler()
	if c.engine != nil {
		c.engine.Close()
		c.engine = nil
	}
	c.sig.SetCurrentRoom(nil)
	c.roomID = ""
	c.isHost = false
	c.participants = nil
	c.lastParticipantCount = 0
	c.remoteDescriptionSet = false
	c.iceCandidateBuffer = nil
	c.offerInFlight = false
	c.releaseOfferCtx()

	c.ui.Update(func(s uistate.State) uistate.State {
		next := uistate.Idle()
		next.StatusMessage = s.StatusMessage
		next.ErrorMessage = s.ErrorMessage
		return next
	})
}

func (c *Controller) stopAllTimers() {
	for _, t := range []clockwork.Timer{
		c.kickstartTimer, c.hardTimeoutTimer, c.recoveryTimer,
		c.offerTimer, c.iceRestartTimer, c.fallbackTimer, c.turnRefreshTimer,
	} {
		if t != nil {
			t.Stop()
		}
	}
	c.kickstartTimer = nil
	c.hardTimeoutTimer = nil
	c.recoveryTimer = nil
	c.offerTimer = nil
	c.iceRestartTimer = nil
	c.fallbackTimer = nil
	c.turnRefreshTimer = nil
}
