package user

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the user package.
var (
	ErrNotFound = errors.New("user not found")
)

// User holds the durable record of an authenticated user. The social graph is stored as identity-id arrays; usernames
// are resolved on demand.
type User struct {
	GithubID     int64
	Username     string
	AvatarURL    string
	Followers    []int64
	Following    []int64
	CloseFriends []int64
	LastSeenMS   int64
	CreatedAt    time.Time
}

// FriendSet returns the deduplicated union of followers and following. This is the set of users whose presence topics
// a viewer subscribes to.
func (u *User) FriendSet() []int64 {
	seen := make(map[int64]struct{}, len(u.Followers)+len(u.Following))
	out := make([]int64, 0, len(u.Followers)+len(u.Following))
	for _, id := range u.Followers {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range u.Following {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// IsFollower reports whether the given identity-id is among the user's followers.
func (u *User) IsFollower(id int64) bool { return contains(u.Followers, id) }

// IsFollowing reports whether the user follows the given identity-id.
func (u *User) IsFollowing(id int64) bool { return contains(u.Following, id) }

// IsCloseFriend reports whether the given identity-id is among the user's close friends.
func (u *User) IsCloseFriend(id int64) bool { return contains(u.CloseFriends, id) }

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// UpsertParams groups the profile fields refreshed from the identity provider at every fresh login. Close friends are
// curated in-product and deliberately absent.
type UpsertParams struct {
	GithubID  int64
	Username  string
	AvatarURL string
	Followers []int64
	Following []int64
}

// Repository defines the data-access contract for users and guest registrations.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (*User, error)
	GetByID(ctx context.Context, githubID int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ResolveUsernames(ctx context.Context, githubIDs []int64) (map[int64]string, error)
	SetLastSeen(ctx context.Context, githubID, lastSeenMS int64) error
	RegisterGuest(ctx context.Context, username string) error
}
