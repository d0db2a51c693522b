package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "github_id, visibility, share_project, share_language, share_activity"

func scanPreferences(row pgx.Row) (Preferences, error) {
	var p Preferences
	err := row.Scan(&p.GithubID, &p.Visibility, &p.ShareProject, &p.ShareLanguage, &p.ShareActivity)
	if err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed preferences repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Get returns the user's preferences. A missing row yields the defaults rather than an error, so callers never need
// to special-case users who have not customised anything.
func (r *PGRepository) Get(ctx context.Context, githubID int64) (Preferences, error) {
	p, err := scanPreferences(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM preferences WHERE github_id = $1`, githubID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Defaults(githubID), nil
		}
		return Preferences{}, fmt.Errorf("query preferences: %w", err)
	}
	return p, nil
}

// Apply upserts the row and merges the patch: nil patch fields keep their stored (or default) values.
func (r *PGRepository) Apply(ctx context.Context, githubID int64, patch Patch) (Preferences, error) {
	if err := patch.Validate(); err != nil {
		return Preferences{}, err
	}

	p, err := scanPreferences(r.db.QueryRow(ctx,
		`INSERT INTO preferences (github_id, visibility, share_project, share_language, share_activity)
		 VALUES ($1, COALESCE($2, 'everyone'), COALESCE($3, TRUE), COALESCE($4, TRUE), COALESCE($5, TRUE))
		 ON CONFLICT (github_id) DO UPDATE SET
		     visibility     = COALESCE($2, preferences.visibility),
		     share_project  = COALESCE($3, preferences.share_project),
		     share_language = COALESCE($4, preferences.share_language),
		     share_activity = COALESCE($5, preferences.share_activity)
		 RETURNING `+selectColumns,
		githubID, patch.Visibility, patch.ShareProject, patch.ShareLanguage, patch.ShareActivity,
	))
	if err != nil {
		return Preferences{}, fmt.Errorf("apply preferences patch: %w", err)
	}
	return p, nil
}
