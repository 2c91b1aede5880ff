package util

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// roomIDPattern matches spec §3's 27-character base64url room identifier.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{27}$`)

// ValidateRoomID checks a room id at an ingress boundary (spec §3: "Validity
// is checked at every ingress boundary"), adapted from the teacher's
// ValidatePeerName normalize-then-check pattern.
func ValidateRoomID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("room id is empty")
	}
	if !roomIDPattern.MatchString(id) {
		return "", errors.New("room id must be 27 base64url characters")
	}
	return id, nil
}

// ValidateSavedRoomName trims and bounds a saved-room name to the 120-char
// limit from spec §6.
func ValidateSavedRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("room name is empty")
	}
	if utf8.RuneCountInString(name) > 120 {
		return "", errors.New("room name must not exceed 120 characters")
	}
	return name, nil
}

// StripHostScheme normalizes a transport host to a bare authority: no
// scheme, no trailing slash (spec §4.1 "Host is a bare authority").
func StripHostScheme(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, "/")
	for _, prefix := range []string{"wss://", "ws://", "https://", "http://"} {
		if strings.HasPrefix(host, prefix) {
			return strings.TrimPrefix(host, prefix)
		}
	}
	return host
}
