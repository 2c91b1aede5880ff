package callcontrol

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/logger"
	"github.com/petervdpas/callcore/internal/media"
	"github.com/petervdpas/callcore/internal/proto"
)

// applyTurnCredentials fetches short-lived TURN credentials for token
// (`GET /api/turn?token=…`, spec §4.2.6) under the shared TurnFetchTimeout
// and reconfigures the engine's ICE server list to STUN+TURN on success,
// falling back to STUN-only if the fetch fails or times out. A token
// already in effect for this join attempt is not re-fetched. Whether or
// not the fetch succeeds, arms a refresh timer at 0.8x the TTL (the
// fetched credential's TTL if positive, else the token's); no timer is
// armed when that TTL is not positive.
func (c *Controller) applyTurnCredentials(serial uint64, token string, ttl time.Duration) {
	if c.turnToken != "" && token == c.turnToken {
		return
	}
	c.turnToken = token
	c.turnTokenTTL = ttl

	servers := append([]media.IceServer{}, c.stunServers...)
	if c.api != nil && token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), constants.TurnFetchTimeout)
		creds, err := c.api.FetchTurn(ctx, c.host, token)
		cancel()
		if c.joinAttemptSerial != serial {
			return
		}
		if err != nil {
			logger.ForCall(c.roomID, serial).Warn("turn fetch failed, falling back to stun-only ice", zap.Error(err))
		} else {
			servers = append(servers, media.IceServer{
				URLs:       creds.Uris,
				Username:   creds.Username,
				Credential: creds.Password,
			})
			if creds.TTLMs > 0 {
				ttl = time.Duration(creds.TTLMs) * time.Millisecond
				c.turnTokenTTL = ttl
			}
		}
	}

	c.iceServersInUse = servers
	if c.engine != nil {
		c.engine.SetIceServers(servers)
	}

	if ttl <= 0 {
		return
	}
	refreshAt := time.Duration(float64(ttl) * constants.TurnRefreshTriggerRatio)
	if c.turnRefreshTimer != nil {
		c.turnRefreshTimer.Stop()
	}
	c.turnRefreshTimer = c.clock.AfterFunc(refreshAt, func() { c.onTurnRefreshDue(serial) })
}

func (c *Controller) onTurnRefreshDue(serial uint64) {
	if c.joinAttemptSerial != serial {
		return
	}
	env := proto.Envelope{Type: proto.TypeTurnRefresh, Rid: &c.roomID, Cid: &c.cid}
	if err := c.sig.Send(context.Background(), env); err != nil {
		logger.ForCall(c.roomID, serial).Warn("turn refresh request failed", zap.Error(err))
	}
}

func (c *Controller) onTurnRefreshed(serial uint64, env proto.Envelope) {
	if c.joinAttemptSerial != serial {
		return
	}
	var payload proto.TurnRefreshedPayload
	if err := proto.DecodePayload(env, &payload); err != nil {
		logger.ForCall(c.roomID, serial).Error("decode turn-refreshed payload", zap.Error(err))
		return
	}
	c.turnToken = ""
	c.applyTurnCredentials(serial, payload.TurnToken, time.Duration(payload.TurnTokenTTLMs)*time.Millisecond)
}
