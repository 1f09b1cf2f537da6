package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ocs-portal/portal-auth/internal/data/database"
	"github.com/ocs-portal/portal-auth/internal/data/pgxutil"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

var sessionColumns = []string{
	"id", "user_id", "email", "display_name", "permissions",
	"ip_address", "user_agent", "created_at", "last_activity", "expires_at",
}

const (
	sessionUpsertQuery = `
		INSERT INTO user_sessions (
			id, user_id, email, display_name, permissions, ip_address, user_agent,
			created_at, last_activity, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at`
	sessionGetQuery = `
		SELECT id, user_id, email, display_name, permissions, ip_address, user_agent,
			created_at, last_activity, expires_at
		FROM user_sessions
		WHERE id = $1 AND expires_at > $2`
	sessionByUserQuery = `
		SELECT id, user_id, email, display_name, permissions, ip_address, user_agent,
			created_at, last_activity, expires_at
		FROM user_sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at, id`
	// GREATEST keeps last_activity monotonic under racing touches.
	sessionTouchQuery = `
		UPDATE user_sessions SET last_activity = GREATEST(last_activity, $2)
		WHERE id = $1 AND expires_at > $2`
	sessionDeleteQuery = `DELETE FROM user_sessions WHERE id = $1`
)

type sessionRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Email        string    `db:"email"`
	DisplayName  string    `db:"display_name"`
	Permissions  []byte    `db:"permissions"`
	IPAddress    string    `db:"ip_address"`
	UserAgent    string    `db:"user_agent"`
	CreatedAt    time.Time `db:"created_at"`
	LastActivity time.Time `db:"last_activity"`
	ExpiresAt    time.Time `db:"expires_at"`
}

func (r sessionRow) toDomain() (domainauth.Session, error) {
	var perms domainauth.PermissionBundle
	if err := json.Unmarshal(r.Permissions, &perms); err != nil {
		return domainauth.Session{}, fmt.Errorf("decode session permissions: %w", err)
	}
	return domainauth.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		Permissions:  perms,
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
		ExpiresAt:    r.ExpiresAt,
	}, nil
}

// PostgresSessionStore implements ports.SessionStore on the user_sessions table.
// Every operation is a single keyed statement.
type PostgresSessionStore struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewPostgresSessionStore creates a session store using the system clock.
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{DB: db, timeProvider: RealTimeProvider{}}
}

// NewPostgresSessionStoreWithTimeProvider creates a session store with a custom clock.
func NewPostgresSessionStoreWithTimeProvider(db *sql.DB, tp TimeProvider) *PostgresSessionStore {
	return &PostgresSessionStore{DB: db, timeProvider: tp}
}

// Save inserts the session or refreshes its mutable fields.
func (s *PostgresSessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	perms, err := json.Marshal(sess.Permissions)
	if err != nil {
		return fmt.Errorf("encode session permissions: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, sessionUpsertQuery,
		sess.ID,
		sess.UserID,
		sess.Email,
		sess.DisplayName,
		perms,
		sess.IPAddress,
		sess.UserAgent,
		sess.CreatedAt.UTC(),
		sess.LastActivity.UTC(),
		sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns the live session or domainauth.ErrSessionNotFound.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (domainauth.Session, error) {
	var row sessionRow
	err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, sessionGetQuery, id, s.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[sessionRow])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainauth.Session{}, domainauth.ErrSessionNotFound
		}
		return domainauth.Session{}, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain()
}

// Touch bumps last_activity. A missing or expired row yields ErrSessionNotFound.
func (s *PostgresSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, sessionTouchQuery, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domainauth.ErrSessionNotFound
	}
	return nil
}

// Delete removes the session. Deleting an absent session is not an error.
func (s *PostgresSessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, sessionDeleteQuery, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListByUser returns the user's live sessions, oldest first.
func (s *PostgresSessionStore) ListByUser(ctx context.Context, userID string) ([]domainauth.Session, error) {
	return s.query(ctx, sessionByUserQuery, userID, s.timeProvider.Now().UTC())
}

// List returns live sessions newest first for the admin view.
func (s *PostgresSessionStore) List(ctx context.Context, opts model.SessionListOptions) ([]domainauth.Session, error) {
	opts.Normalize()
	q := database.ListQuery{
		Table:   "user_sessions",
		Columns: sessionColumns,
		Conditions: []database.Condition{
			database.Where("expires_at", database.GreaterThan, s.timeProvider.Now().UTC()),
		},
		OrderBy:  "created_at",
		OrderDir: "DESC",
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	if opts.UserID != nil {
		q.Conditions = append(q.Conditions, database.Where("user_id", database.Equal, *opts.UserID))
	}
	query, args := q.Build()
	return s.query(ctx, query, args...)
}

// DeleteExpired removes sessions whose expiry is at or before now. It returns
// 0 without deleting when another sweeper holds the advisory lock.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := pgxutil.WithSQLTx(ctx, s.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockSweepMajor, advisoryLockSweepSessions).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= $1`, now.UTC())
			if err != nil {
				return fmt.Errorf("delete expired sessions: %w", err)
			}
			deleted, err = res.RowsAffected()
			return err
		},
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *PostgresSessionStore) query(ctx context.Context, query string, args ...any) ([]domainauth.Session, error) {
	var rows []sessionRow
	if err := pgxutil.WithPgxConn(ctx, s.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(res, pgx.RowToStructByName[sessionRow])
		return err
	}); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domainauth.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
