// Package identity resolves access tokens into user profiles and social graphs through an external identity provider.
package identity

import (
	"context"
	"errors"
)

// Sentinel errors for the identity package.
var (
	// ErrUnauthorized means the provider rejected the token. The login must fail; there is no fallback.
	ErrUnauthorized = errors.New("identity provider rejected token")

	// ErrUnavailable means the provider could not be reached or answered with a server error. A token that cannot be
	// verified never admits a login.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Profile is an authenticated user's identity and social graph as reported by the provider. Close friends are curated
// in-product and are not part of the provider profile.
type Profile struct {
	GithubID  int64
	Username  string
	AvatarURL string
	Followers []int64
	Following []int64
}

// Adapter resolves an access token into a Profile.
type Adapter interface {
	Fetch(ctx context.Context, token string) (*Profile, error)
}
