package prefs

import (
	"errors"
	"testing"

	"github.com/devpulse/devpulse-server/internal/protocol"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	p := Defaults(42)
	if p.GithubID != 42 {
		t.Errorf("GithubID = %d, want 42", p.GithubID)
	}
	if p.Visibility != protocol.VisibilityEveryone {
		t.Errorf("Visibility = %q, want everyone", p.Visibility)
	}
	if !p.ShareProject || !p.ShareLanguage || !p.ShareActivity {
		t.Errorf("share flags = %+v, want all true", p)
	}
}

func TestPatchValidate(t *testing.T) {
	t.Parallel()

	if err := (Patch{}).Validate(); err != nil {
		t.Errorf("empty patch Validate() = %v", err)
	}

	v := protocol.VisibilityCloseFriends
	if err := (Patch{Visibility: &v}).Validate(); err != nil {
		t.Errorf("valid visibility Validate() = %v", err)
	}

	bad := "friends-of-friends"
	if err := (Patch{Visibility: &bad}).Validate(); !errors.Is(err, ErrInvalidVisibility) {
		t.Errorf("Validate() = %v, want ErrInvalidVisibility", err)
	}
}
