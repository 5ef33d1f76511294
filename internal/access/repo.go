package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/platform/db"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Repository defines persistence operations for access administration.
type Repository interface {
	ListProfiles(ctx context.Context, page shared.Pagination) ([]authz.AccessProfile, error)
	GetProfile(ctx context.Context, id string) (*authz.AccessProfile, error)
	InsertProfile(ctx context.Context, profile authz.AccessProfile) error
	UpdateProfile(ctx context.Context, profile authz.AccessProfile) error
	DeleteProfile(ctx context.Context, id string) error
	CountControlsForProfile(ctx context.Context, profileID string) (int, error)

	ListControls(ctx context.Context, page shared.Pagination) ([]authz.UserAccessControl, error)
	GetControl(ctx context.Context, id string) (*authz.UserAccessControl, error)
	InsertControl(ctx context.Context, control authz.UserAccessControl) error
	UpdateControl(ctx context.Context, control authz.UserAccessControl) error
	DeleteControl(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ListProfiles returns profiles ordered by name.
func (r *PGRepository) ListProfiles(ctx context.Context, page shared.Pagination) ([]authz.AccessProfile, error) {
	norm := page.Normalize()
	const query = `
		SELECT id, name, description, is_active, permissions,
		       created_by, created_at, updated_by, updated_at
		FROM access_profiles
		ORDER BY name
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, norm.PageSize, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []authz.AccessProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
	}
	return profiles, rows.Err()
}

// GetProfile fetches one profile.
func (r *PGRepository) GetProfile(ctx context.Context, id string) (*authz.AccessProfile, error) {
	const query = `
		SELECT id, name, description, is_active, permissions,
		       created_by, created_at, updated_by, updated_at
		FROM access_profiles
		WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return profile, nil
}

// InsertProfile stores a new profile.
func (r *PGRepository) InsertProfile(ctx context.Context, profile authz.AccessProfile) error {
	perms, err := json.Marshal(profile.Permissions)
	if err != nil {
		return fmt.Errorf("access: encode permissions: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO access_profiles (id, name, description, is_active, permissions,
		                              created_by, created_at, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		profile.ID, profile.Name, profile.Description, profile.IsActive, perms,
		profile.CreatedBy, stamp(profile.CreatedAt), profile.UpdatedBy, stamp(profile.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	return err
}

// UpdateProfile rewrites an existing profile.
func (r *PGRepository) UpdateProfile(ctx context.Context, profile authz.AccessProfile) error {
	perms, err := json.Marshal(profile.Permissions)
	if err != nil {
		return fmt.Errorf("access: encode permissions: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE access_profiles
		 SET name = $2, description = $3, is_active = $4, permissions = $5,
		     updated_by = $6, updated_at = $7
		 WHERE id = $1`,
		profile.ID, profile.Name, profile.Description, profile.IsActive, perms,
		profile.UpdatedBy, stamp(profile.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProfile removes a profile. The in-use check runs in the same
// transaction as the delete so a control assigned concurrently cannot
// be orphaned.
func (r *PGRepository) DeleteProfile(ctx context.Context, id string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM user_access_controls WHERE profile_id = $1`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrProfileInUse
		}
		tag, err := tx.Exec(ctx, `DELETE FROM access_profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountControlsForProfile reports how many access controls reference a
// profile.
func (r *PGRepository) CountControlsForProfile(ctx context.Context, profileID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_access_controls WHERE profile_id = $1`, profileID).Scan(&count)
	return count, err
}

// ListControls returns access controls ordered by recency.
func (r *PGRepository) ListControls(ctx context.Context, page shared.Pagination) ([]authz.UserAccessControl, error) {
	norm := page.Normalize()
	const query = `
		SELECT id, user_id, user_name, user_email, profile_id, profile_name,
		       is_active, start_date, end_date,
		       created_by, created_at, updated_by, updated_at
		FROM user_access_controls
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, norm.PageSize, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var controls []authz.UserAccessControl
	for rows.Next() {
		control, err := scanControl(rows)
		if err != nil {
			return nil, err
		}
		controls = append(controls, *control)
	}
	return controls, rows.Err()
}

// GetControl fetches one access control.
func (r *PGRepository) GetControl(ctx context.Context, id string) (*authz.UserAccessControl, error) {
	const query = `
		SELECT id, user_id, user_name, user_email, profile_id, profile_name,
		       is_active, start_date, end_date,
		       created_by, created_at, updated_by, updated_at
		FROM user_access_controls
		WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	control, err := scanControl(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return control, nil
}

// InsertControl stores a new access control.
func (r *PGRepository) InsertControl(ctx context.Context, control authz.UserAccessControl) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_access_controls
		   (id, user_id, user_name, user_email, profile_id, profile_name,
		    is_active, start_date, end_date, created_by, created_at, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		control.ID, control.UserID, control.UserName, control.UserEmail,
		control.ProfileID, control.ProfileName, control.IsActive,
		optStamp(control.StartDate), optStamp(control.EndDate),
		control.CreatedBy, stamp(control.CreatedAt), control.UpdatedBy, stamp(control.UpdatedAt))
	return err
}

// UpdateControl rewrites an existing access control.
func (r *PGRepository) UpdateControl(ctx context.Context, control authz.UserAccessControl) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_access_controls
		 SET user_id = $2, user_name = $3, user_email = $4, profile_id = $5,
		     profile_name = $6, is_active = $7, start_date = $8, end_date = $9,
		     updated_by = $10, updated_at = $11
		 WHERE id = $1`,
		control.ID, control.UserID, control.UserName, control.UserEmail,
		control.ProfileID, control.ProfileName, control.IsActive,
		optStamp(control.StartDate), optStamp(control.EndDate),
		control.UpdatedBy, stamp(control.UpdatedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteControl removes an access control.
func (r *PGRepository) DeleteControl(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_access_controls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (*authz.AccessProfile, error) {
	var (
		profile  authz.AccessProfile
		rawPerms []byte
		created  pgtype.Timestamptz
		updated  pgtype.Timestamptz
	)
	if err := row.Scan(
		&profile.ID, &profile.Name, &profile.Description, &profile.IsActive,
		&rawPerms, &profile.CreatedBy, &created, &profile.UpdatedBy, &updated,
	); err != nil {
		return nil, err
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &profile.Permissions); err != nil {
			return nil, fmt.Errorf("access: decode permissions: %w", err)
		}
	}
	profile.CreatedAt = created.Time
	profile.UpdatedAt = updated.Time
	return &profile, nil
}

func scanControl(row pgx.Row) (*authz.UserAccessControl, error) {
	var (
		control    authz.UserAccessControl
		start, end pgtype.Timestamptz
		created    pgtype.Timestamptz
		updated    pgtype.Timestamptz
	)
	if err := row.Scan(
		&control.ID, &control.UserID, &control.UserName, &control.UserEmail,
		&control.ProfileID, &control.ProfileName, &control.IsActive,
		&start, &end,
		&control.CreatedBy, &created, &control.UpdatedBy, &updated,
	); err != nil {
		return nil, err
	}
	if start.Valid {
		t := start.Time
		control.StartDate = &t
	}
	if end.Valid {
		t := end.Time
		control.EndDate = &t
	}
	control.CreatedAt = created.Time
	control.UpdatedAt = updated.Time
	return &control, nil
}

func stamp(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optStamp(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
