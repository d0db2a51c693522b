package gateway

import (
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devpulse/devpulse-server/internal/protocol"
)

func strptr(s string) *string { return &s }

func newAuthedClient(username string, githubID int64) *Client {
	c := newClient(nil, nil, zerolog.Nop())
	c.username = username
	c.githubID = githubID
	c.guest = githubID == 0
	c.authed = true
	c.status = protocol.StatusOnline
	c.activity = protocol.ActivityIdle
	return c
}

func TestApplyUpdateDeltaMinimality(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)

	d := c.applyUpdate(protocol.StatusUpdate{
		Activity: strptr(protocol.ActivityCoding),
		Project:  strptr("devpulse"),
	})
	if d.Status != nil || d.Language != nil {
		t.Errorf("applyUpdate() delta carries unchanged fields: %+v", d)
	}
	if d.Activity == nil || *d.Activity != protocol.ActivityCoding {
		t.Errorf("applyUpdate() activity = %v", d.Activity)
	}
	if d.Project == nil || *d.Project != "devpulse" {
		t.Errorf("applyUpdate() project = %v", d.Project)
	}
}

func TestApplyUpdateIdempotent(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)
	c.activity = protocol.ActivityCoding
	c.project = "devpulse"

	d := c.applyUpdate(protocol.StatusUpdate{
		Status:   strptr(protocol.StatusOnline),
		Activity: strptr(protocol.ActivityCoding),
		Project:  strptr("devpulse"),
	})
	if !d.Empty() {
		t.Errorf("applyUpdate() with unchanged fields produced delta %+v", d)
	}
}

func TestApplyUpdateRecoversFromAway(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)
	c.status = protocol.StatusAway

	d := c.applyUpdate(protocol.StatusUpdate{Activity: strptr(protocol.ActivityCoding)})
	if d.Status == nil || *d.Status != protocol.StatusOnline {
		t.Errorf("applyUpdate() on an away window did not recover to Online: %+v", d)
	}
	if c.status != protocol.StatusOnline {
		t.Errorf("window status = %q, want Online", c.status)
	}
}

func TestForceAway(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)
	c.activity = protocol.ActivityCoding

	d := c.forceAway()
	if d.Status == nil || *d.Status != protocol.StatusAway {
		t.Errorf("forceAway() status = %v", d.Status)
	}
	if d.Activity == nil || *d.Activity != protocol.ActivityIdle {
		t.Errorf("forceAway() activity = %v", d.Activity)
	}

	// A second transition is a no-op: the window is already Away.
	if d := c.forceAway(); !d.Empty() {
		t.Errorf("forceAway() on an away window produced delta %+v", d)
	}
}

func TestCustomStatusGenerations(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)

	gen := c.setCustom(`{"text":"shipping"}`)
	gen2 := c.setCustom(`{"text":"reviewing"}`)
	if gen2 <= gen {
		t.Fatalf("setCustom() generations not monotonic: %d then %d", gen, gen2)
	}

	// A stale expiry must not clear the newer status.
	if c.clearCustomIfGen(gen) {
		t.Error("clearCustomIfGen() cleared with a stale generation")
	}
	if c.rawCustomStatus() == nil {
		t.Fatal("custom status lost after stale clear attempt")
	}

	if !c.clearCustomIfGen(gen2) {
		t.Error("clearCustomIfGen() refused the current generation")
	}
	if c.rawCustomStatus() != nil {
		t.Error("custom status present after clear")
	}

	if c.clearCustom() {
		t.Error("clearCustom() reported a clear with nothing set")
	}
}

// The sweep reads the channel set through channelIDs while the read pump mutates it on join and leave; both paths go
// through the connection mutex. Run with -race.
func TestChannelSetConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := newAuthedClient("alice", 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			id := strconv.Itoa(i)
			c.addChannel(id)
			c.removeChannel(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.channelIDs()
		}
	}()
	wg.Wait()

	if got := c.channelIDs(); len(got) != 0 {
		t.Errorf("channel set after paired add/remove = %v, want empty", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := truncateRunes("hello", 128); got != "hello" {
		t.Errorf("truncateRunes(short) = %q", got)
	}
	long := make([]rune, 0, 200)
	for i := 0; i < 200; i++ {
		long = append(long, 'デ')
	}
	got := truncateRunes(string(long), 128)
	if n := len([]rune(got)); n != 128 {
		t.Errorf("truncateRunes() kept %d code points, want 128", n)
	}
}
