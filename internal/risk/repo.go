package risk

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/shared"
)

// Repository defines persistence for the risk register.
type Repository interface {
	List(ctx context.Context, page shared.Pagination) ([]Risk, error)
	ListAll(ctx context.Context) ([]Risk, error)
	Get(ctx context.Context, id string) (*Risk, error)
	Insert(ctx context.Context, r Risk) error
	Update(ctx context.Context, r Risk) error
	Delete(ctx context.Context, id string) error
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

const riskColumns = `id, title, description, category, owner,
       likelihood, impact, score, status,
       created_by, created_at, updated_by, updated_at`

// List returns register entries ordered by score, highest first.
func (r *PGRepository) List(ctx context.Context, page shared.Pagination) ([]Risk, error) {
	norm := page.Normalize()
	rows, err := r.pool.Query(ctx,
		`SELECT `+riskColumns+`
		 FROM risks
		 ORDER BY score DESC, updated_at DESC
		 LIMIT $1 OFFSET $2`,
		norm.PageSize, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var risks []Risk
	for rows.Next() {
		risk, err := scanRisk(rows)
		if err != nil {
			return nil, err
		}
		risks = append(risks, *risk)
	}
	return risks, rows.Err()
}

// ListAll returns every register entry, same order as List. It backs
// the export path, which must not be clamped by pagination bounds.
func (r *PGRepository) ListAll(ctx context.Context) ([]Risk, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+riskColumns+`
		 FROM risks
		 ORDER BY score DESC, updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var risks []Risk
	for rows.Next() {
		risk, err := scanRisk(rows)
		if err != nil {
			return nil, err
		}
		risks = append(risks, *risk)
	}
	return risks, rows.Err()
}

// Get fetches one register entry.
func (r *PGRepository) Get(ctx context.Context, id string) (*Risk, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+riskColumns+` FROM risks WHERE id = $1`, id)
	risk, err := scanRisk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return risk, nil
}

// Insert stores a new register entry.
func (r *PGRepository) Insert(ctx context.Context, risk Risk) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO risks
		   (id, title, description, category, owner, likelihood, impact, score, status,
		    created_by, created_at, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		risk.ID, risk.Title, risk.Description, risk.Category, risk.Owner,
		risk.Likelihood, risk.Impact, risk.Score, risk.Status,
		risk.CreatedBy, ts(risk.CreatedAt), risk.UpdatedBy, ts(risk.UpdatedAt))
	return err
}

// Update rewrites an existing register entry.
func (r *PGRepository) Update(ctx context.Context, risk Risk) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE risks
		 SET title = $2, description = $3, category = $4, owner = $5,
		     likelihood = $6, impact = $7, score = $8, status = $9,
		     updated_by = $10, updated_at = $11
		 WHERE id = $1`,
		risk.ID, risk.Title, risk.Description, risk.Category, risk.Owner,
		risk.Likelihood, risk.Impact, risk.Score, risk.Status,
		risk.UpdatedBy, ts(risk.UpdatedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a register entry.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM risks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRisk(row pgx.Row) (*Risk, error) {
	var (
		risk    Risk
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(
		&risk.ID, &risk.Title, &risk.Description, &risk.Category, &risk.Owner,
		&risk.Likelihood, &risk.Impact, &risk.Score, &risk.Status,
		&risk.CreatedBy, &created, &risk.UpdatedBy, &updated,
	); err != nil {
		return nil, err
	}
	risk.CreatedAt = created.Time
	risk.UpdatedAt = updated.Time
	return &risk, nil
}

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
