package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = "github_id, username, avatar_url, followers, following, close_friends, last_seen_ms, created_at"

// scanUser scans a single row into a *User. The row must contain the columns listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.GithubID, &u.Username, &u.AvatarURL,
		&u.Followers, &u.Following, &u.CloseFriends,
		&u.LastSeenMS, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Upsert inserts or refreshes a user from the identity provider's profile and graph, and ensures a default
// preferences row exists. Called on every fresh login so the stored graph tracks the provider. Close friends are a
// user-curated subset and are never overwritten by a provider refresh.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (*User, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (github_id, username, avatar_url, followers, following)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (github_id) DO UPDATE SET
		     username = EXCLUDED.username,
		     avatar_url = EXCLUDED.avatar_url,
		     followers = EXCLUDED.followers,
		     following = EXCLUDED.following
		 RETURNING `+selectColumns,
		params.GithubID, params.Username, params.AvatarURL,
		params.Followers, params.Following,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO preferences (github_id) VALUES ($1) ON CONFLICT (github_id) DO NOTHING`,
		params.GithubID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure preferences row: %w", err)
	}

	return u, nil
}

// GetByID returns the user matching the given identity-id.
func (r *PGRepository) GetByID(ctx context.Context, githubID int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM users WHERE github_id = $1`, githubID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByUsername returns the user matching the given username. Usernames are case-sensitive and unique.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

// ResolveUsernames maps identity-ids to usernames. Unknown ids are absent from the result, not an error; a viewer's
// graph may reference users who have never logged in here.
func (r *PGRepository) ResolveUsernames(ctx context.Context, githubIDs []int64) (map[int64]string, error) {
	if len(githubIDs) == 0 {
		return map[int64]string{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT github_id, username FROM users WHERE github_id = ANY($1)`, githubIDs)
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]string, len(githubIDs))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		result[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return result, nil
}

// SetLastSeen persists the last-seen timestamp in milliseconds. Called when a user's final window disconnects.
func (r *PGRepository) SetLastSeen(ctx context.Context, githubID, lastSeenMS int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_seen_ms = $2 WHERE github_id = $1`, githubID, lastSeenMS)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RegisterGuest records a username in the guest namespace. Re-registering an existing guest name is not an error:
// names are reusable once no live connection holds them, and the live-connection check belongs to the session layer.
func (r *PGRepository) RegisterGuest(ctx context.Context, username string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO guest_users (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, username)
	if err != nil {
		return fmt.Errorf("register guest: %w", err)
	}
	return nil
}
