package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ocs-portal/portal-auth/internal/data/database"
	"github.com/ocs-portal/portal-auth/internal/data/pgxutil"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

var auditColumns = []string{"id", "user_id", "email", "action", "details", "ip_address", "user_agent", "created_at"}

type auditRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	Action    string    `db:"action"`
	Details   []byte    `db:"details"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	CreatedAt time.Time `db:"created_at"`
}

func (r auditRow) toModel() (*model.AuditEntry, error) {
	e := &model.AuditEntry{
		ID:        r.ID,
		UserID:    r.UserID,
		Email:     r.Email,
		Action:    model.AuditAction(r.Action),
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details %s: %w", r.ID, err)
		}
	}
	return e, nil
}

// AuditRepo provides database operations for the audit log.
type AuditRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAuditRepo creates a new AuditRepo using the system clock.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewAuditRepoWithTimeProvider creates an AuditRepo with a custom time provider (useful for tests).
func NewAuditRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AuditRepo {
	return &AuditRepo{DB: db, timeProvider: tp}
}

// Create records one audit entry.
func (r *AuditRepo) Create(ctx context.Context, req *model.CreateAuditEntryRequest) (*model.AuditEntry, error) {
	if req == nil {
		return nil, errors.New("create audit entry request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	details := req.Details
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode audit details: %w", err)
	}

	var row auditRow
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO audit_logs (id, user_id, email, action, details, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, user_id, email, action, details, ip_address, user_agent, created_at
		`,
			uuid.NewString(),
			req.UserID,
			req.Email,
			string(req.Action),
			raw,
			req.IPAddress,
			req.UserAgent,
			r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[auditRow])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}
	return row.toModel()
}

// List returns audit entries newest first, filtered by opts.
func (r *AuditRepo) List(ctx context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error) {
	opts.Normalize()
	q := database.ListQuery{
		Table:    "audit_logs",
		Columns:  auditColumns,
		OrderBy:  "created_at",
		OrderDir: "DESC",
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	if opts.UserID != nil {
		q.Conditions = append(q.Conditions, database.Where("user_id", database.Equal, *opts.UserID))
	}
	if opts.Action != nil {
		q.Conditions = append(q.Conditions, database.Where("action", database.Equal, string(*opts.Action)))
	}
	if opts.Since != nil {
		q.Conditions = append(q.Conditions, database.Where("created_at", database.GreaterThanOrEqual, opts.Since.UTC()))
	}
	query, args := q.Build()

	var rows []auditRow
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(res, pgx.RowToStructByName[auditRow])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	out := make([]*model.AuditEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteOlderThan removes up to batchSize entries created before cutoff.
// Concurrent sweepers skip the run when another holds the advisory lock.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var deleted int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockSweepMajor, advisoryLockSweepAudit).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			res, err := tx.ExecContext(ctx, `
				DELETE FROM audit_logs
				WHERE id IN (
					SELECT id FROM audit_logs
					WHERE created_at < $1
					ORDER BY created_at
					LIMIT $2
				)
			`, cutoff.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("delete old audit entries: %w", err)
			}
			deleted, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
