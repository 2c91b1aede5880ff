// Package deeplink resolves an incoming deep-link URL into a concrete
// join/save action plus the host-trust decision that governs whether
// the link's host becomes the new persisted default (spec §4.4).
// Grounded on the teacher's config validation style: parse, validate,
// normalize, return a typed result or a wrapped error.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/petervdpas/callcore/internal/config"
	"github.com/petervdpas/callcore/internal/util"
)

// Action is what the resolved link asks the caller to do.
type Action string

const (
	// ActionJoin means: join the room immediately.
	ActionJoin Action = "join"
	// ActionSaveRoom means: add the room to the saved-rooms list without
	// joining (spec §4.4 "save-only links").
	ActionSaveRoom Action = "save_room"
)

// Resolved is the decoded, validated outcome of a deep link.
type Resolved struct {
	Action Action
	RoomID string
	// Host is the bare-authority signaling host the link targets. Empty
	// means "use the persisted default host".
	Host string
	// SavedRoomName is set only for ActionSaveRoom links that carry a
	// display name.
	SavedRoomName string
	// IsTrustedHost reports whether Host is in the configured allowlist.
	// The caller persists Host as the new default only when this is true;
	// otherwise Host is used for this action alone (spec §4.4: "untrusted
	// hosts are a one-off, never persisted").
	IsTrustedHost bool
}

// Resolve parses rawURL against one of two schemes:
//
//	callcore://join?room=<id>&host=<host>
//	callcore://save?room=<id>&host=<host>&name=<name>
//
// and validates the room id and optional name against the same rules
// enforced at every other ingress boundary. The optional host is only
// normalized with util.StripHostScheme, not validated.
func Resolve(rawURL string, cfg config.Config) (Resolved, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Resolved{}, fmt.Errorf("parse deep link: %w", err)
	}

	var action Action
	switch u.Host {
	case "join":
		action = ActionJoin
	case "save":
		action = ActionSaveRoom
	default:
		return Resolved{}, fmt.Errorf("unrecognized deep link action %q", u.Host)
	}

	q := u.Query()
	roomID, err := util.ValidateRoomID(q.Get("room"))
	if err != nil {
		return Resolved{}, fmt.Errorf("deep link room id: %w", err)
	}

	host := util.StripHostScheme(q.Get("host"))
	trusted := host == "" || cfg.IsTrustedHost(host)

	result := Resolved{
		Action:        action,
		RoomID:        roomID,
		Host:          host,
		IsTrustedHost: trusted,
	}

	if action == ActionSaveRoom {
		if name := q.Get("name"); name != "" {
			savedName, err := util.ValidateSavedRoomName(name)
			if err != nil {
				return Resolved{}, fmt.Errorf("deep link room name: %w", err)
			}
			result.SavedRoomName = savedName
		}
	}

	return result, nil
}

// ErrUntrustedHost is returned by policy helpers that refuse to persist
// an untrusted host as the new default.
var ErrUntrustedHost = errors.New("deeplink: host is not in the trusted allowlist")

// ApplyHostPolicy returns the host that should become the new persisted
// default, or ErrUntrustedHost if r.Host must be used as a one-off only.
func ApplyHostPolicy(r Resolved) (string, error) {
	if r.Host == "" {
		return "", nil
	}
	if !r.IsTrustedHost {
		return "", ErrUntrustedHost
	}
	return r.Host, nil
}
