package privacy

import (
	"testing"

	"github.com/devpulse/devpulse-server/internal/prefs"
	"github.com/devpulse/devpulse-server/internal/protocol"
	"github.com/devpulse/devpulse-server/internal/user"
)

func testTarget() *user.User {
	return &user.User{
		GithubID:     100,
		Username:     "target",
		Followers:    []int64{1, 2},
		Following:    []int64{2, 3},
		CloseFriends: []int64{3},
	}
}

func prefsWith(visibility string) prefs.Preferences {
	p := prefs.Defaults(100)
	p.Visibility = visibility
	return p
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		viewer     Viewer
		visibility string
		want       bool
	}{
		{"everyone allows stranger", Viewer{GithubID: 999}, protocol.VisibilityEveryone, true},
		{"everyone allows guest", Viewer{Guest: true}, protocol.VisibilityEveryone, true},
		{"invisible denies follower", Viewer{GithubID: 1}, protocol.VisibilityInvisible, false},
		{"invisible allows self", Viewer{GithubID: 100}, protocol.VisibilityInvisible, true},
		{"followers allows follower", Viewer{GithubID: 1}, protocol.VisibilityFollowers, true},
		{"followers denies followed-only", Viewer{GithubID: 3}, protocol.VisibilityFollowers, false},
		{"followers denies guest", Viewer{Guest: true}, protocol.VisibilityFollowers, false},
		{"following allows followed", Viewer{GithubID: 3}, protocol.VisibilityFollowing, true},
		{"following denies follower-only", Viewer{GithubID: 1}, protocol.VisibilityFollowing, false},
		{"close friends allows close friend", Viewer{GithubID: 3}, protocol.VisibilityCloseFriends, true},
		{"close friends denies plain follower", Viewer{GithubID: 1}, protocol.VisibilityCloseFriends, false},
		{"close friends denies guest", Viewer{Guest: true}, protocol.VisibilityCloseFriends, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Allowed(tt.viewer, testTarget(), prefsWith(tt.visibility))
			if got != tt.want {
				t.Errorf("Allowed(%+v, %q) = %v, want %v", tt.viewer, tt.visibility, got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	strptr := func(s string) *string { return &s }

	t.Run("all shared leaves fields intact", func(t *testing.T) {
		t.Parallel()
		m := &protocol.TopicMessage{
			T:        "u",
			ID:       "target",
			A:        strptr(protocol.ActivityCoding),
			Project:  strptr("devpulse"),
			Language: strptr("Go"),
		}
		Redact(m, prefs.Defaults(100))
		if m.Project == nil || m.Language == nil || *m.A != protocol.ActivityCoding {
			t.Errorf("Redact() modified shared fields: %+v", m)
		}
	})

	t.Run("unshared fields are withheld in deltas", func(t *testing.T) {
		t.Parallel()
		m := &protocol.TopicMessage{
			T:        "u",
			ID:       "target",
			A:        strptr(protocol.ActivityDebugging),
			Project:  strptr("secret"),
			Language: strptr("Go"),
		}
		p := prefs.Defaults(100)
		p.ShareProject = false
		p.ShareLanguage = false
		p.ShareActivity = false
		Redact(m, p)
		if m.Project != nil {
			t.Errorf("Redact() kept project %q", *m.Project)
		}
		if m.Language != nil {
			t.Errorf("Redact() kept language %q", *m.Language)
		}
		if m.A == nil || *m.A != protocol.ActivityHidden {
			t.Errorf("Redact() activity = %v, want Hidden", m.A)
		}
	})

	t.Run("online frame hides act but keeps avatar", func(t *testing.T) {
		t.Parallel()
		m := &protocol.TopicMessage{
			T:   "o",
			ID:  "target",
			A:   strptr("https://example.com/a.png"),
			Act: strptr(protocol.ActivityCoding),
		}
		p := prefs.Defaults(100)
		p.ShareActivity = false
		Redact(m, p)
		if m.Act == nil || *m.Act != protocol.ActivityHidden {
			t.Errorf("Redact() act = %v, want Hidden", m.Act)
		}
		if m.A == nil || *m.A != "https://example.com/a.png" {
			t.Errorf("Redact() clobbered the avatar: %v", m.A)
		}
	})

	t.Run("absent activity stays absent", func(t *testing.T) {
		t.Parallel()
		m := &protocol.TopicMessage{T: "u", ID: "target"}
		p := prefs.Defaults(100)
		p.ShareActivity = false
		Redact(m, p)
		if m.A != nil {
			t.Errorf("Redact() fabricated activity %q on a frame without one", *m.A)
		}
	})
}
