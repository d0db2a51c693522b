package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// resumeRecord is the JSON structure persisted in Valkey for a resumable session. GithubID is zero for guests.
type resumeRecord struct {
	Username  string `json:"username"`
	GithubID  int64  `json:"github_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ResumeStore manages one-use resume records in Valkey. A record is minted at every login and its TTL is refreshed
// when the connection drops, giving the client a fixed reconnection window measured from the disconnect.
type ResumeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResumeStore creates a resume store with the given record TTL.
func NewResumeStore(rdb *redis.Client, ttl time.Duration) *ResumeStore {
	return &ResumeStore{rdb: rdb, ttl: ttl}
}

func resumeKey(token string) string { return "session:" + token }

// Mint generates a fresh resume token and stores its record.
func (s *ResumeStore) Mint(ctx context.Context, username string, githubID int64) (string, error) {
	token := uuid.NewString()
	data, err := json.Marshal(resumeRecord{
		Username:  username,
		GithubID:  githubID,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal resume record: %w", err)
	}
	if err := s.rdb.Set(ctx, resumeKey(token), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store resume record: %w", err)
	}
	return token, nil
}

// Refresh resets the record's TTL without changing its contents. Called on disconnect so the resume window is
// measured from the moment the transport dropped, not from login.
func (s *ResumeStore) Refresh(ctx context.Context, token string) error {
	if err := s.rdb.Expire(ctx, resumeKey(token), s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh resume record: %w", err)
	}
	return nil
}

// Claim consumes a resume record for the declared username. Records are one-use: a successful claim deletes the
// record atomically. Returns ErrResumeNotFound when the token is unknown, expired, or bound to another username.
func (s *ResumeStore) Claim(ctx context.Context, token, username string) (*resumeRecord, error) {
	raw, err := s.rdb.GetDel(ctx, resumeKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResumeNotFound
		}
		return nil, fmt.Errorf("claim resume record: %w", err)
	}

	var rec resumeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal resume record: %w", err)
	}
	if rec.Username != username {
		return nil, ErrResumeNotFound
	}
	return &rec, nil
}

// Delete removes a record outright.
func (s *ResumeStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, resumeKey(token)).Err(); err != nil {
		return fmt.Errorf("delete resume record: %w", err)
	}
	return nil
}
