package callcontrol

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/callerr"
	"github.com/petervdpas/callcore/internal/deeplink"
	"github.com/petervdpas/callcore/internal/logger"
)

// CreateAndJoinRoom asks host to mint a new room (`POST /api/rooms`,
// spec §6) and joins it, the entry point for "start a call" rather than
// "join an existing one".
func (c *Controller) CreateAndJoinRoom(ctx context.Context, host string) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("%w: no api client configured", callerr.ErrInvalidInput)
	}
	info, err := c.api.CreateRoom(ctx, host)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	c.JoinRoom(ctx, host, info.RoomID)
	return info.RoomID, nil
}

// InviteParticipant fires a best-effort push invite for the room
// currently joined (`POST /api/push/invite`, spec §7: delivery is
// best-effort and never blocks the call).
func (c *Controller) InviteParticipant(ctx context.Context, targetCid string) error {
	if c.api == nil || c.roomID == "" {
		return nil
	}
	if err := c.api.NotifyInvite(ctx, c.host, c.roomID, targetCid); err != nil {
		logger.ForCall(c.roomID, c.joinAttemptSerial).Warn("invite push failed", zap.String("target", targetCid), zap.Error(err))
		return err
	}
	return nil
}

// JoinFromDeepLink joins the room a resolved deep link names, applying
// the host-trust policy first: a trusted host becomes the new persisted
// default, an untrusted one is used for this join only (spec §4.4).
func (c *Controller) JoinFromDeepLink(ctx context.Context, r deeplink.Resolved) error {
	if r.Action != deeplink.ActionJoin {
		return fmt.Errorf("%w: deep link is not a join action", callerr.ErrInvalidInput)
	}

	host := r.Host
	if host == "" && c.persisted != nil {
		host = c.persisted.DefaultHost()
	}
	if host == "" {
		return fmt.Errorf("%w: no host available to join", callerr.ErrInvalidInput)
	}

	if newDefault, err := deeplink.ApplyHostPolicy(r); err != nil {
		logger.Get().Debug("deep link host is untrusted, joining as one-off", zap.String("host", r.Host))
	} else if newDefault != "" && c.persisted != nil {
		if err := c.persisted.SetDefaultHost(newDefault); err != nil {
			logger.Get().Warn("persist default host failed", zap.Error(err))
		}
	}

	c.JoinRoom(ctx, host, r.RoomID)
	return nil
}
