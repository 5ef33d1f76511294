package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-grc/aegis/internal/authz"
	jobmetrics "github.com/aegis-grc/aegis/internal/jobs"
	"github.com/aegis-grc/aegis/internal/shared"
)

// ExpiryWarnWindow is how far ahead the scan looks for closing grants.
const ExpiryWarnWindow = 7 * 24 * time.Hour

// ExpiryStore is the persistence surface the scan needs.
type ExpiryStore interface {
	ListExpiringWithin(ctx context.Context, within time.Duration) ([]authz.UserAccessControl, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGExpiryStore implements ExpiryStore on PostgreSQL.
type PGExpiryStore struct {
	pool *pgxpool.Pool
}

// NewExpiryStore constructs a PGExpiryStore.
func NewExpiryStore(pool *pgxpool.Pool) *PGExpiryStore {
	return &PGExpiryStore{pool: pool}
}

// ListExpiringWithin returns active controls whose end date falls inside
// the window.
func (s *PGExpiryStore) ListExpiringWithin(ctx context.Context, within time.Duration) ([]authz.UserAccessControl, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_email, profile_name, end_date
		 FROM user_access_controls
		 WHERE is_active = TRUE
		   AND end_date IS NOT NULL
		   AND end_date >= now()
		   AND end_date <= now() + $1::interval
		 ORDER BY end_date`,
		within.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var controls []authz.UserAccessControl
	for rows.Next() {
		var c authz.UserAccessControl
		if err := rows.Scan(&c.ID, &c.UserEmail, &c.ProfileName, &c.EndDate); err != nil {
			return nil, err
		}
		controls = append(controls, c)
	}
	return controls, rows.Err()
}

// DeactivateExpired flips is_active off for controls past their end
// date. Decisions already deny these through the time-window check;
// this is housekeeping so administrator views reflect reality.
func (s *PGExpiryStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_access_controls
		 SET is_active = FALSE, updated_by = 'system', updated_at = now()
		 WHERE is_active = TRUE AND end_date IS NOT NULL AND end_date < $1`,
		now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpiryScanner runs the nightly access-control sweep.
type ExpiryScanner struct {
	store   ExpiryStore
	audit   *shared.AuditLogger
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpiryScanner constructs the scanner. Audit and metrics may be nil.
func NewExpiryScanner(store ExpiryStore, audit *shared.AuditLogger, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScanner{store: store, audit: audit, logger: logger, metrics: metrics, clock: time.Now}
}

// Run performs one sweep: warn about closing grants, deactivate lapsed
// ones.
func (s *ExpiryScanner) Run(ctx context.Context) error {
	tracker := s.metrics.Track("access:expiry-scan")

	expiring, err := s.store.ListExpiringWithin(ctx, ExpiryWarnWindow)
	if err != nil {
		return tracker.End(err)
	}
	s.metrics.SetExpiring("7d", len(expiring))
	for _, c := range expiring {
		s.logger.Warn("access control expiring soon",
			slog.String("id", c.ID),
			slog.String("user_email", c.UserEmail),
			slog.String("profile", c.ProfileName),
			slog.Time("end_date", derefTime(c.EndDate)))
	}

	deactivated, err := s.store.DeactivateExpired(ctx, s.clock().UTC())
	if err != nil {
		return tracker.End(err)
	}
	if deactivated > 0 {
		s.metrics.AddDeactivated(int(deactivated))
		s.logger.Info("deactivated lapsed access controls", slog.Int64("count", deactivated))
		if s.audit != nil {
			if err := s.audit.Record(ctx, shared.AuditLog{
				Actor:    "system",
				Action:   "access.expiry_scan",
				Entity:   "user_access_control",
				EntityID: "batch",
				Meta:     map[string]any{"deactivated": deactivated, "expiring_7d": len(expiring)},
			}); err != nil {
				s.logger.Warn("record expiry audit", slog.Any("error", err))
			}
		}
	}
	return tracker.End(nil)
}

// HandleTask adapts the scanner to an Asynq handler.
func (s *ExpiryScanner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload AccessExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return s.Run(ctx)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
