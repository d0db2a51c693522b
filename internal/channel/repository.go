package channel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/devpulse/devpulse-server/internal/postgres"
)

const (
	// codeAlphabet omits the confusable characters 0, O, I, and 1 so invite codes survive being read aloud or
	// handwritten.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6

	// maxCodeAttempts bounds the retry loop on invite-code collisions.
	maxCodeAttempts = 5
)

const selectColumns = "id, name, owner_github_id, invite_code, created_at"

func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.OwnerGithubID, &ch.InviteCode, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed channel repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new channel with a freshly generated invite code and the owner as its admin member. Invite-code
// collisions are retried with a new code.
func (r *PGRepository) Create(ctx context.Context, name string, ownerGithubID int64, ownerUsername string) (*Channel, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}

		var ch *Channel
		err = postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx,
				`INSERT INTO channels (name, owner_github_id, invite_code)
				 VALUES ($1, $2, $3)
				 RETURNING `+selectColumns,
				name, ownerGithubID, code,
			)
			var scanErr error
			ch, scanErr = scanChannel(row)
			if scanErr != nil {
				return scanErr
			}

			_, err := tx.Exec(ctx,
				`INSERT INTO channel_members (channel_id, github_id, username, role)
				 VALUES ($1, $2, $3, $4)`,
				ch.ID, ownerGithubID, ownerUsername, RoleAdmin,
			)
			if err != nil {
				return fmt.Errorf("insert owner membership: %w", err)
			}
			return nil
		})
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				r.log.Debug().Str("code", code).Msg("Invite code collision, retrying")
				continue
			}
			return nil, fmt.Errorf("create channel: %w", err)
		}
		return ch, nil
	}
	return nil, ErrCodeExhausted
}

// GetByID returns the channel matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Channel, error) {
	ch, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}
	return ch, nil
}

// GetByInviteCode returns the channel matching the given invite code.
func (r *PGRepository) GetByInviteCode(ctx context.Context, code string) (*Channel, error) {
	ch, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM channels WHERE invite_code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by invite code: %w", err)
	}
	return ch, nil
}

// Join inserts a membership inside a transaction that enforces the member cap. Returns ErrAlreadyMember for duplicate
// joins and ErrFull at capacity.
func (r *PGRepository) Join(ctx context.Context, channelID uuid.UUID, githubID int64, username string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM channel_members WHERE channel_id = $1`, channelID).Scan(&count)
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if count >= MaxMembers {
			return ErrFull
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO channel_members (channel_id, github_id, username, role)
			 VALUES ($1, $2, $3, $4)`,
			channelID, githubID, username, RoleMember,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyMember
			}
			if postgres.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
}

// Leave removes a membership. Returns ErrNotMember when no row was deleted.
func (r *PGRepository) Leave(ctx context.Context, channelID uuid.UUID, githubID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND github_id = $2`, channelID, githubID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// IsMember reports whether the given identity-id belongs to the channel.
func (r *PGRepository) IsMember(ctx context.Context, channelID uuid.UUID, githubID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND github_id = $2)`,
		channelID, githubID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// Members returns the full roster of a channel ordered by join time.
func (r *PGRepository) Members(ctx context.Context, channelID uuid.UUID) ([]Member, error) {
	rows, err := r.db.Query(ctx,
		`SELECT channel_id, github_id, username, role, joined_at
		 FROM channel_members WHERE channel_id = $1 ORDER BY joined_at`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ChannelID, &m.GithubID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// ChannelsOf returns every channel the given identity-id belongs to.
func (r *PGRepository) ChannelsOf(ctx context.Context, githubID int64) ([]Channel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.name, c.owner_github_id, c.invite_code, c.created_at
		 FROM channels c
		 JOIN channel_members m ON m.channel_id = c.id
		 WHERE m.github_id = $1
		 ORDER BY c.created_at`, githubID)
	if err != nil {
		return nil, fmt.Errorf("query channels of user: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.OwnerGithubID, &ch.InviteCode, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// generateCode produces a cryptographically random invite code of codeLength characters from the confusable-free
// alphabet.
func generateCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
