// Package protocol defines the compact JSON wire taxonomy spoken between editor clients and the gateway. Every frame
// is a JSON object with a short "t" discriminator; keys are abbreviated to keep per-update bandwidth small.
package protocol

import "errors"

// ErrInvalidFrame is returned for malformed JSON, unknown message types, and missing required fields. The connection
// is preserved; the gateway replies with a generic error frame.
var ErrInvalidFrame = errors.New("invalid frame")

// Status labels.
const (
	StatusOnline    = "Online"
	StatusAway      = "Away"
	StatusOffline   = "Offline"
	StatusInvisible = "Invisible"
)

// Activity labels.
const (
	ActivityCoding    = "Coding"
	ActivityDebugging = "Debugging"
	ActivityReading   = "Reading"
	ActivityIdle      = "Idle"
	ActivityHidden    = "Hidden"
)

// Visibility modes.
const (
	VisibilityEveryone     = "everyone"
	VisibilityFollowers    = "followers"
	VisibilityFollowing    = "following"
	VisibilityCloseFriends = "close-friends"
	VisibilityInvisible    = "invisible"
)

// ValidStatus returns true for status labels a client may report.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway:
		return true
	default:
		return false
	}
}

// ValidActivity returns true for activity labels a client may report.
func ValidActivity(a string) bool {
	switch a {
	case ActivityCoding, ActivityDebugging, ActivityReading, ActivityIdle, ActivityHidden:
		return true
	default:
		return false
	}
}

// ValidVisibility returns true for visibility modes a client may set.
func ValidVisibility(v string) bool {
	switch v {
	case VisibilityEveryone, VisibilityFollowers, VisibilityFollowing, VisibilityCloseFriends, VisibilityInvisible:
		return true
	default:
		return false
	}
}

// CompactUser is the wire representation of a user's presence snapshot.
type CompactUser struct {
	ID       string `json:"id"`
	Avatar   string `json:"a,omitempty"`
	Status   string `json:"s"`
	Activity string `json:"act"`
	Project  string `json:"p,omitempty"`
	Language string `json:"l,omitempty"`
	LastSeen int64  `json:"ls,omitempty"`
}

// CustomStatus is the payload of the "cs" field in a delta. ExpiresAt is a millisecond wall-clock deadline, zero when
// the status does not expire.
type CustomStatus struct {
	Text      string `json:"text"`
	Emoji     string `json:"emoji,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}
