// Package prefs holds per-user visibility preferences: who may see a user's presence and which status fields are
// shared with them.
package prefs

import (
	"context"
	"errors"

	"github.com/devpulse/devpulse-server/internal/protocol"
)

// ErrInvalidVisibility is returned when a patch carries an unknown visibility mode.
var ErrInvalidVisibility = errors.New("invalid visibility mode")

// Preferences is one user's visibility policy. Guests have no preferences row and are treated as the defaults.
type Preferences struct {
	GithubID      int64
	Visibility    string
	ShareProject  bool
	ShareLanguage bool
	ShareActivity bool
}

// Defaults returns the preferences applied before a user ever changes them: visible to everyone, all fields shared.
func Defaults(githubID int64) Preferences {
	return Preferences{
		GithubID:      githubID,
		Visibility:    protocol.VisibilityEveryone,
		ShareProject:  true,
		ShareLanguage: true,
		ShareActivity: true,
	}
}

// Patch is a partial preferences change. Nil fields are left unchanged.
type Patch struct {
	Visibility    *string
	ShareProject  *bool
	ShareLanguage *bool
	ShareActivity *bool
}

// Validate checks that a non-nil visibility value is a known mode.
func (p Patch) Validate() error {
	if p.Visibility != nil && !protocol.ValidVisibility(*p.Visibility) {
		return ErrInvalidVisibility
	}
	return nil
}

// Repository defines the data-access contract for preferences.
type Repository interface {
	// Get returns the user's preferences, or the defaults when no row exists.
	Get(ctx context.Context, githubID int64) (Preferences, error)
	// Apply merges the patch into the stored row and returns the result.
	Apply(ctx context.Context, githubID int64, patch Patch) (Preferences, error)
}
