// Package privacy decides which viewers may see a user's presence and which status fields are shared with them.
// Decisions are pure functions over the target's preferences and social graph; they are evaluated per recipient at
// fan-out time, never at publish time.
package privacy

import (
	"github.com/devpulse/devpulse-server/internal/prefs"
	"github.com/devpulse/devpulse-server/internal/protocol"
	"github.com/devpulse/devpulse-server/internal/user"
)

// Viewer identifies who is looking. Guests carry no identity-id and only ever see targets visible to everyone.
type Viewer struct {
	GithubID int64
	Guest    bool
}

// Allowed reports whether the viewer may see the target's presence at all. An invisible target is allowed to nobody
// but themselves; they appear offline rather than restricted.
func Allowed(viewer Viewer, target *user.User, p prefs.Preferences) bool {
	if !viewer.Guest && viewer.GithubID == target.GithubID {
		return true
	}

	switch p.Visibility {
	case protocol.VisibilityEveryone:
		return true
	case protocol.VisibilityInvisible:
		return false
	}

	// The remaining modes require membership in the target's graph, which a guest never has.
	if viewer.Guest {
		return false
	}

	switch p.Visibility {
	case protocol.VisibilityFollowers:
		return target.IsFollower(viewer.GithubID)
	case protocol.VisibilityFollowing:
		return target.IsFollowing(viewer.GithubID)
	case protocol.VisibilityCloseFriends:
		return target.IsCloseFriend(viewer.GithubID)
	default:
		return false
	}
}

// Redact clears the status fields the target has chosen not to share. Applied after delta computation, so a recipient
// may receive an empty update where a field changed but is withheld; suppressing those frames would itself leak that
// the field changed. The "a" key carries the activity in delta frames but the avatar in online frames, so the
// activity redaction is keyed on the frame type.
func Redact(m *protocol.TopicMessage, p prefs.Preferences) {
	if !p.ShareProject {
		m.Project = nil
	}
	if !p.ShareLanguage {
		m.Language = nil
	}
	if p.ShareActivity {
		return
	}
	hidden := protocol.ActivityHidden
	switch m.T {
	case "u", "cu":
		if m.A != nil {
			m.A = &hidden
		}
	case "o":
		m.Act = &hidden
	}
}

// RedactCompact applies the share flags to a compact user record built for an initial sync or a channel roster.
func RedactCompact(u *protocol.CompactUser, p prefs.Preferences) {
	if !p.ShareProject {
		u.Project = ""
	}
	if !p.ShareLanguage {
		u.Language = ""
	}
	if !p.ShareActivity {
		u.Activity = protocol.ActivityHidden
	}
}
