package channel

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMembers is the hard cap on distinct members per channel.
const MaxMembers = 50

// Member roles matching the database CHECK constraint.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Sentinel errors for the channel package.
var (
	ErrNotFound      = errors.New("channel not found")
	ErrNameLength    = errors.New("channel name must be between 3 and 30 characters")
	ErrFull          = errors.New("channel is full")
	ErrAlreadyMember = errors.New("already a member of this channel")
	ErrNotMember     = errors.New("not a member of this channel")
	ErrCodeExhausted = errors.New("failed to generate unique invite code")
)

// Channel holds the fields read from the channels table.
type Channel struct {
	ID            uuid.UUID
	Name          string
	OwnerGithubID int64
	InviteCode    string
	CreatedAt     time.Time
}

// Member holds one row of the channel_members table. Username is denormalised so rosters can be assembled without
// joining through the users table.
type Member struct {
	ChannelID uuid.UUID
	GithubID  int64
	Username  string
	Role      string
	JoinedAt  time.Time
}

// ValidateName checks that a channel name is between 3 and 30 characters (runes) after trimming whitespace and
// returns the trimmed result.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 3 || n > 30 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for channels and memberships.
type Repository interface {
	Create(ctx context.Context, name string, ownerGithubID int64, ownerUsername string) (*Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Channel, error)
	GetByInviteCode(ctx context.Context, code string) (*Channel, error)
	Join(ctx context.Context, channelID uuid.UUID, githubID int64, username string) error
	Leave(ctx context.Context, channelID uuid.UUID, githubID int64) error
	IsMember(ctx context.Context, channelID uuid.UUID, githubID int64) (bool, error)
	Members(ctx context.Context, channelID uuid.UUID) ([]Member, error)
	ChannelsOf(ctx context.Context, githubID int64) ([]Channel, error)
}
