package callcontrol

import (
	"context"

	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/logger"
	"github.com/petervdpas/callcore/internal/media"
	"github.com/petervdpas/callcore/internal/proto"
)

// maybeSendOffer creates and sends a fresh offer when this client is the
// host, at least two participants are present, the engine's signaling
// state is stable, and no offer is already in flight (spec §4.2.4). The
// second argument is ignored: every trigger, post-join or renegotiation,
// is held to the same host-only check.
func (c *Controller) maybeSendOffer(serial uint64, _ bool) {
	if c.joinAttemptSerial != serial || c.engine == nil {
		return
	}
	if !c.isHost || len(c.participants) < 2 {
		return
	}
	if c.offerInFlight {
		return
	}
	if c.engine.SignalingState() != media.SignalingStateStable {
		return
	}

	c.offerInFlight = true
	ctx, cancel := context.WithCancel(context.Background())
	c.offerCancel = cancel

	c.offerTimer = c.clock.AfterFunc(constants.OfferTimeout, func() {
		c.onOfferTimeout(serial)
	})

	desc, err := c.engine.CreateOffer(ctx, false)
	if err != nil {
		c.releaseOfferCtx()
		c.offerInFlight = false
		logger.ForCall(c.roomID, serial).Warn("create offer failed", zap.Error(err))
		return
	}
	c.sendSdp(proto.TypeOffer, desc)
}

// releaseOfferCtx cancels the context backing the current CreateOffer
// call, if one is pending.
func (c *Controller) releaseOfferCtx() {
	if c.offerCancel != nil {
		c.offerCancel()
		c.offerCancel = nil
	}
}

func (c *Controller) onOfferTimeout(serial uint64) {
	if c.joinAttemptSerial != serial || !c.offerInFlight {
		return
	}
	logger.ForCall(c.roomID, serial).Warn("offer timed out awaiting answer, rolling back")
	c.offerInFlight = false
	c.releaseOfferCtx()
	if c.engine != nil {
		_ = c.engine.RollbackLocalDescription(context.Background())
	}
	c.triggerIceRestart(serial)
}

func (c *Controller) sendSdp(t proto.MessageType, desc media.SessionDescription) {
	env := proto.Envelope{Type: t, Rid: &c.roomID, Cid: &c.cid}
	if err := proto.EncodePayload(&env, proto.SdpPayload{Sdp: desc.Sdp}); err != nil {
		logger.ForCall(c.roomID, c.joinAttemptSerial).Error("encode sdp payload", zap.Error(err))
		return
	}
	if err := c.sig.Send(context.Background(), env); err != nil {
		logger.ForCall(c.roomID, c.joinAttemptSerial).Warn("send sdp failed", zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Controller) onRemoteOffer(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial || c.engine == nil {
		return
	}
	var payload proto.SdpPayload
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode offer payload", zap.Error(err))
		return
	}

	ctx := context.Background()
	if err := c.engine.SetRemoteDescription(ctx, media.SessionDescription{Type: media.SdpTypeOffer, Sdp: payload.Sdp}); err != nil {
		logger.ForCall(c.roomID, serial).Warn("apply remote offer failed", zap.Error(err))
		return
	}
	c.flushIceCandidateBuffer(serial)

	answer, err := c.engine.CreateAnswer(ctx)
	if err != nil {
		logger.ForCall(c.roomID, serial).Warn("create answer failed", zap.Error(err))
		return
	}
	c.sendSdp(proto.TypeAnswer, answer)

	c.stopFallbackTimer()
}

func (c *Controller) onRemoteAnswer(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial || c.engine == nil {
		return
	}
	if c.offerTimer != nil {
		c.offerTimer.Stop()
		c.offerTimer = nil
	}
	c.offerInFlight = false
	c.releaseOfferCtx()

	var payload proto.SdpPayload
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode answer payload", zap.Error(err))
		return
	}
	if err := c.engine.SetRemoteDescription(context.Background(), media.SessionDescription{Type: media.SdpTypeAnswer, Sdp: payload.Sdp}); err != nil {
		logger.ForCall(c.roomID, serial).Warn("apply remote answer failed", zap.Error(err))
		return
	}
	c.flushIceCandidateBuffer(serial)
}

// onRemoteIce applies an inbound trickle-ICE candidate, or buffers it
// when it races ahead of the remote description (spec §4.2.4: candidates
// arriving before SetRemoteDescription must be queued, capped at
// constants.IceCandidateBufferMax, and flushed in order once it's set).
func (c *Controller) onRemoteIce(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial || c.engine == nil {
		return
	}
	var payload proto.IcePayload
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode ice payload", zap.Error(err))
		return
	}
	cand := media.IceCandidate{
		Candidate:     payload.Candidate.Candidate,
		SdpMid:        payload.Candidate.SdpMid,
		SdpMLineIndex: payload.Candidate.SdpMLineIndex,
	}

	if !c.remoteDescriptionSet {
		if len(c.iceCandidateBuffer) >= constants.IceCandidateBufferMax {
			logger.ForCall(c.roomID, serial).Warn("ice candidate buffer full, dropping candidate")
			return
		}
		c.iceCandidateBuffer = append(c.iceCandidateBuffer, cand)
		return
	}

	if err := c.engine.AddIceCandidate(context.Background(), cand); err != nil {
		logger.ForCall(c.roomID, serial).Debug("add remote ice candidate failed", zap.Error(err))
	}
}

// flushIceCandidateBuffer marks the remote description as applied and
// replays any candidates that arrived early, in arrival order.
func (c *Controller) flushIceCandidateBuffer(serial uint64) {
	c.remoteDescriptionSet = true
	if len(c.iceCandidateBuffer) == 0 {
		return
	}
	buffered := c.iceCandidateBuffer
	c.iceCandidateBuffer = nil
	ctx := context.Background()
	for _, cand := range buffered {
		if err := c.engine.AddIceCandidate(ctx, cand); err != nil {
			logger.ForCall(c.roomID, serial).Debug("add buffered ice candidate failed", zap.Error(err))
		}
	}
}

func (c *Controller) sendIceCandidate(cand media.IceCandidate) {
	env := proto.Envelope{Type: proto.TypeIce, Rid: &c.roomID, Cid: &c.cid}
	payload := proto.IcePayload{Candidate: proto.IceCandidate{
		Candidate:     cand.Candidate,
		SdpMid:        cand.SdpMid,
		SdpMLineIndex: cand.SdpMLineIndex,
	}}
	if err := proto.EncodePayload(&env, payload); err != nil {
		logger.ForCall(c.roomID, c.joinAttemptSerial).Error("encode ice payload", zap.Error(err))
		return
	}
	if err := c.sig.Send(context.Background(), env); err != nil {
		logger.ForCall(c.roomID, c.joinAttemptSerial).Debug("send ice candidate failed", zap.Error(err))
	}
}

// onIceConnectionStateChange schedules an ICE restart after a short
// delay once the connection is observed disconnected, and immediately
// on failed, subject to the restart cooldown (spec §4.2.4).
func (c *Controller) onIceConnectionStateChange(serial uint64, s media.IceConnectionState) {
	switch s {
	case media.IceConnectionStateDisconnected:
		if c.iceRestartTimer != nil {
			c.iceRestartTimer.Stop()
		}
		c.iceRestartTimer = c.clock.AfterFunc(constants.IceDisconnectedRestartDelay, func() {
			c.triggerIceRestart(serial)
		})
	case media.IceConnectionStateFailed:
		c.triggerIceRestart(serial)
	case media.IceConnectionStateConnected, media.IceConnectionStateCompleted:
		if c.iceRestartTimer != nil {
			c.iceRestartTimer.Stop()
			c.iceRestartTimer = nil
		}
	}
}

// triggerIceRestart creates a fresh ICE-restart offer, gated by a
// cooldown so repeated disconnect/reconnect flaps don't spam the wire
// (spec §4.2.4 invariant: "ICE restart cooldown").
func (c *Controller) triggerIceRestart(serial uint64) {
	if c.joinAttemptSerial != serial || c.engine == nil || !c.isHost {
		return
	}
	now := c.clock.Now()
	if !c.lastIceRestartAt.IsZero() && now.Sub(c.lastIceRestartAt) < constants.IceRestartCooldown {
		return
	}
	c.lastIceRestartAt = now

	c.offerInFlight = false
	ctx := context.Background()
	desc, err := c.engine.CreateOffer(ctx, true)
	if err != nil {
		logger.ForCall(c.roomID, serial).Warn("ice restart offer failed", zap.Error(err))
		return
	}
	c.offerInFlight = true
	c.offerTimer = c.clock.AfterFunc(constants.OfferTimeout, func() { c.onOfferTimeout(serial) })
	c.sendSdp(proto.TypeOffer, desc)
}

// scheduleNonHostFallback arms a delayed offer from a non-host
// participant in case the host never sends one (spec §4.2.5), capped at
// constants.NonHostFallbackMaxAttempts.
func (c *Controller) scheduleNonHostFallback(serial uint64) {
	if c.isHost || len(c.participants) < 2 {
		return
	}
	if c.fallbackTimer != nil {
		return
	}
	c.fallbackTimer = c.clock.AfterFunc(constants.NonHostFallbackDelay, func() {
		c.onNonHostFallback(serial)
	})
}

func (c *Controller) onNonHostFallback(serial uint64) {
	if c.joinAttemptSerial != serial || c.engine == nil {
		return
	}
	c.fallbackTimer = nil
	if c.isHost || c.offerInFlight {
		return
	}
	if c.engine.SignalingState() != media.SignalingStateStable {
		return
	}
	if c.nonHostFallbackTries >= constants.NonHostFallbackMaxAttempts {
		logger.ForCall(c.roomID, serial).Warn("non-host fallback attempts exhausted")
		return
	}
	c.nonHostFallbackTries++

	c.offerInFlight = true
	ctx := context.Background()
	desc, err := c.engine.CreateOffer(ctx, false)
	if err != nil {
		c.offerInFlight = false
		logger.ForCall(c.roomID, serial).Warn("non-host fallback offer failed", zap.Error(err))
		return
	}
	c.offerTimer = c.clock.AfterFunc(constants.OfferTimeout, func() { c.onOfferTimeout(serial) })
	c.sendSdp(proto.TypeOffer, desc)

	c.fallbackTimer = c.clock.AfterFunc(constants.NonHostFallbackDelay, func() { c.onNonHostFallback(serial) })
}

func (c *Controller) stopFallbackTimer() {
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
}
