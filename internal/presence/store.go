// Package presence provides the ephemeral status cache backed by Valkey and the multi-window aggregation rule.
// Cached entries let a replica answer rosters and initial syncs for users connected elsewhere; they expire an hour
// after the last write so the cache never outlives a stale status for long.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldStatus   = "s"
	fieldActivity = "act"
	fieldProject  = "p"
	fieldLanguage = "l"
	fieldCustom   = "cs"
	fieldLastSeen = "ls"
)

// State is one user's cached presence snapshot. CustomStatus holds the raw JSON of the custom status object, or is
// empty when none is set.
type State struct {
	Status       string
	Activity     string
	Project      string
	Language     string
	CustomStatus string
	LastSeenMS   int64
}

// Store reads and writes the status cache in Valkey, one hash per username.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a status cache with the given entry TTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Set writes the full snapshot for a username and resets the TTL. Empty optional fields are deleted from the hash so
// a cleared project or custom status does not linger from an earlier write.
func (s *Store) Set(ctx context.Context, username string, state State) error {
	key := statusKey(username)

	fields := map[string]any{
		fieldStatus:   state.Status,
		fieldActivity: state.Activity,
		fieldLastSeen: strconv.FormatInt(state.LastSeenMS, 10),
	}
	var del []string
	for field, val := range map[string]string{
		fieldProject:  state.Project,
		fieldLanguage: state.Language,
		fieldCustom:   state.CustomStatus,
	} {
		if val == "" {
			del = append(del, field)
		} else {
			fields[field] = val
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if len(del) > 0 {
		pipe.HDel(ctx, key, del...)
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache status for %s: %w", username, err)
	}
	return nil
}

// Get returns the cached snapshot for a username, or (nil, nil) when nothing is cached.
func (s *Store) Get(ctx context.Context, username string) (*State, error) {
	vals, err := s.rdb.HGetAll(ctx, statusKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cached status for %s: %w", username, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return stateFromHash(vals), nil
}

// GetMany returns the cached snapshots for each username in a single pipeline round trip. Usernames with no cache
// entry are absent from the result.
func (s *Store) GetMany(ctx context.Context, usernames []string) (map[string]State, error) {
	if len(usernames) == 0 {
		return map[string]State{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(usernames))
	for i, name := range usernames {
		cmds[i] = pipe.HGetAll(ctx, statusKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mget cached status: %w", err)
	}

	result := make(map[string]State, len(usernames))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("read cached status for %s: %w", usernames[i], err)
		}
		if len(vals) == 0 {
			continue
		}
		result[usernames[i]] = *stateFromHash(vals)
	}
	return result, nil
}

// Delete removes the cached snapshot. Called when a user goes invisible so the cache cannot leak their last state.
func (s *Store) Delete(ctx context.Context, username string) error {
	if err := s.rdb.Del(ctx, statusKey(username)).Err(); err != nil {
		return fmt.Errorf("delete cached status for %s: %w", username, err)
	}
	return nil
}

func stateFromHash(vals map[string]string) *State {
	ls, _ := strconv.ParseInt(vals[fieldLastSeen], 10, 64)
	return &State{
		Status:       vals[fieldStatus],
		Activity:     vals[fieldActivity],
		Project:      vals[fieldProject],
		Language:     vals[fieldLanguage],
		CustomStatus: vals[fieldCustom],
		LastSeenMS:   ls,
	}
}

func statusKey(username string) string {
	return "status:" + username
}
