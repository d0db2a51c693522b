package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/devpulse/devpulse-server/internal/protocol"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	want := State{
		Status:       protocol.StatusOnline,
		Activity:     protocol.ActivityCoding,
		Project:      "devpulse",
		Language:     "Go",
		CustomStatus: `{"text":"shipping"}`,
		LastSeenMS:   1700000000000,
	}
	if err := store.Set(ctx, "alice", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want cached state")
	}
	if *got != want {
		t.Errorf("Get() = %+v, want %+v", *got, want)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)

	got, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestSetClearsStaleOptionalFields(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	first := State{Status: protocol.StatusOnline, Activity: protocol.ActivityCoding, Project: "devpulse", CustomStatus: `{"text":"busy"}`}
	if err := store.Set(ctx, "alice", first); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	second := State{Status: protocol.StatusOnline, Activity: protocol.ActivityIdle}
	if err := store.Set(ctx, "alice", second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Project != "" || got.CustomStatus != "" {
		t.Errorf("Get() kept stale fields: %+v", got)
	}
}

func TestEntryExpires(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "alice", State{Status: protocol.StatusOnline}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	mr.FastForward(time.Hour + time.Second)

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v after TTL, want nil", got)
	}
}

func TestGetMany(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "alice", State{Status: protocol.StatusOnline, Activity: protocol.ActivityReading}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "bob", State{Status: protocol.StatusAway, Activity: protocol.ActivityIdle}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.GetMany(ctx, []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetMany() returned %d entries, want 2", len(got))
	}
	if got["alice"].Activity != protocol.ActivityReading {
		t.Errorf("GetMany() alice = %+v", got["alice"])
	}
	if _, ok := got["carol"]; ok {
		t.Error("GetMany() returned an entry for an uncached user")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, "alice", State{Status: protocol.StatusOnline}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v after delete, want nil", got)
	}
}
