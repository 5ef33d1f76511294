package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("authz: not found")

// Store provides the two read operations the engine needs from the
// persistence collaborator. No write operations belong here.
type Store interface {
	// AccessControlByEmail returns the binding for a principal along
	// with the number of rows matching the email. Zero rows yields
	// ErrNotFound. More than one row is a data inconsistency: the most
	// recently updated row is returned and the caller logs the count.
	AccessControlByEmail(ctx context.Context, email string) (*UserAccessControl, int, error)

	// ProfileByID returns a profile, or ErrNotFound.
	ProfileByID(ctx context.Context, id string) (*AccessProfile, error)
}

// PGStore implements Store against PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// AccessControlByEmail fetches all bindings for the email ordered by
// recency and returns the first.
func (s *PGStore) AccessControlByEmail(ctx context.Context, email string) (*UserAccessControl, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, fmt.Errorf("authz: store not initialised")
	}
	const query = `
		SELECT id, user_id, user_name, user_email, profile_id, profile_name,
		       is_active, start_date, end_date,
		       created_by, created_at, updated_by, updated_at
		FROM user_access_controls
		WHERE lower(user_email) = $1
		ORDER BY updated_at DESC`
	rows, err := s.pool.Query(ctx, query, NormalizeEmail(email))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		first *UserAccessControl
		count int
	)
	for rows.Next() {
		var (
			rec        UserAccessControl
			start, end pgtype.Timestamptz
			created    pgtype.Timestamptz
			updated    pgtype.Timestamptz
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.UserName, &rec.UserEmail,
			&rec.ProfileID, &rec.ProfileName, &rec.IsActive,
			&start, &end,
			&rec.CreatedBy, &created, &rec.UpdatedBy, &updated,
		); err != nil {
			return nil, 0, err
		}
		rec.StartDate = optionalTime(start)
		rec.EndDate = optionalTime(end)
		rec.CreatedAt = created.Time
		rec.UpdatedAt = updated.Time
		if first == nil {
			cloned := rec
			first = &cloned
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if first == nil {
		return nil, 0, ErrNotFound
	}
	return first, count, nil
}

// ProfileByID fetches a profile including its permission matrix.
func (s *PGStore) ProfileByID(ctx context.Context, id string) (*AccessProfile, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("authz: store not initialised")
	}
	const query = `
		SELECT id, name, description, is_active, permissions,
		       created_by, created_at, updated_by, updated_at
		FROM access_profiles
		WHERE id = $1`
	var (
		profile    AccessProfile
		rawPerms   []byte
		created    pgtype.Timestamptz
		updated    pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID, &profile.Name, &profile.Description, &profile.IsActive,
		&rawPerms, &profile.CreatedBy, &created, &profile.UpdatedBy, &updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &profile.Permissions); err != nil {
			return nil, fmt.Errorf("authz: decode permissions for profile %s: %w", id, err)
		}
	}
	profile.CreatedAt = created.Time
	profile.UpdatedAt = updated.Time
	return &profile, nil
}

func optionalTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
