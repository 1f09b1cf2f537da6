package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ocs-portal/portal-auth/internal/data/pgxutil"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
)

const ruleColumns = `id, name, match_kind, group_name, group_id, attribute_key, attribute_value, priority,
	role, tickets_access, inventory_access, purchasing_access, forms_access, allowed_departments,
	created_at, updated_at`

const (
	ruleListQuery    = `SELECT ` + ruleColumns + ` FROM permission_rules ORDER BY priority, name`
	ruleGetByIDQuery = `SELECT ` + ruleColumns + ` FROM permission_rules WHERE id = $1`
	ruleInsertQuery  = `
		INSERT INTO permission_rules (
			id, name, match_kind, group_name, group_id, attribute_key, attribute_value, priority,
			role, tickets_access, inventory_access, purchasing_access, forms_access, allowed_departments,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING ` + ruleColumns
	ruleUpdateQuery = `
		UPDATE permission_rules SET
			name = $2, match_kind = $3, group_name = $4, group_id = $5, attribute_key = $6,
			attribute_value = $7, priority = $8, role = $9, tickets_access = $10,
			inventory_access = $11, purchasing_access = $12, forms_access = $13,
			allowed_departments = $14, updated_at = $15
		WHERE id = $1
		RETURNING ` + ruleColumns
)

// ruleRow mirrors a permission_rules row; levels are stored in their text form.
type ruleRow struct {
	ID                 string    `db:"id"`
	Name               string    `db:"name"`
	MatchKind          string    `db:"match_kind"`
	GroupName          string    `db:"group_name"`
	GroupID            string    `db:"group_id"`
	AttributeKey       string    `db:"attribute_key"`
	AttributeValue     string    `db:"attribute_value"`
	Priority           int       `db:"priority"`
	Role               string    `db:"role"`
	TicketsAccess      string    `db:"tickets_access"`
	InventoryAccess    string    `db:"inventory_access"`
	PurchasingAccess   string    `db:"purchasing_access"`
	FormsAccess        string    `db:"forms_access"`
	AllowedDepartments []string  `db:"allowed_departments"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r ruleRow) toDomain() (domainauth.PermissionRule, error) {
	role, err := domainauth.ParseRole(r.Role)
	if err != nil {
		return domainauth.PermissionRule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	levels := make([]domainauth.AccessLevel, 0, 4)
	for _, s := range []string{r.TicketsAccess, r.InventoryAccess, r.PurchasingAccess, r.FormsAccess} {
		l, err := domainauth.ParseAccessLevel(s)
		if err != nil {
			return domainauth.PermissionRule{}, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		levels = append(levels, l)
	}
	depts := r.AllowedDepartments
	if depts == nil {
		depts = []string{}
	}
	return domainauth.PermissionRule{
		ID:   r.ID,
		Name: r.Name,
		Match: domainauth.RuleMatch{
			Kind:           domainauth.MatchKind(r.MatchKind),
			GroupName:      r.GroupName,
			GroupID:        r.GroupID,
			AttributeKey:   r.AttributeKey,
			AttributeValue: r.AttributeValue,
		},
		Priority: r.Priority,
		Grants: domainauth.PermissionBundle{
			Role:        role,
			Tickets:     levels[0],
			Inventory:   levels[1],
			Purchasing:  levels[2],
			Forms:       levels[3],
			Departments: depts,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// ruleArgs returns the column values for positions $2..$14.
func ruleArgs(rule domainauth.PermissionRule) []any {
	depts := rule.Grants.Departments
	if depts == nil {
		depts = []string{}
	}
	return []any{
		rule.Name,
		string(rule.Match.Kind),
		rule.Match.GroupName,
		rule.Match.GroupID,
		rule.Match.AttributeKey,
		rule.Match.AttributeValue,
		rule.Priority,
		rule.Grants.Role.String(),
		rule.Grants.Tickets.String(),
		rule.Grants.Inventory.String(),
		rule.Grants.Purchasing.String(),
		rule.Grants.Forms.String(),
		depts,
	}
}

// RuleRepo provides database operations for permission rules.
type RuleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRuleRepo creates a new RuleRepo using the system clock.
func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewRuleRepoWithTimeProvider creates a RuleRepo with a custom time provider (useful for tests).
func NewRuleRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RuleRepo {
	return &RuleRepo{DB: db, timeProvider: tp}
}

// List returns every permission rule ordered by priority then name.
func (r *RuleRepo) List(ctx context.Context) ([]domainauth.PermissionRule, error) {
	var rows []ruleRow
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, ruleListQuery)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(res, pgx.RowToStructByName[ruleRow])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list permission rules: %w", err)
	}
	out := make([]domainauth.PermissionRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// GetByID returns one rule or ErrRuleNotFound.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (domainauth.PermissionRule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domainauth.PermissionRule{}, ErrRuleNotFound
	}
	return r.queryOne(ctx, ruleGetByIDQuery, id)
}

// Create inserts a rule with a fresh ID. The rule must already be validated.
func (r *RuleRepo) Create(ctx context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	args := append([]any{uuid.NewString()}, ruleArgs(rule)...)
	args = append(args, r.timeProvider.Now().UTC())
	out, err := r.queryOne(ctx, ruleInsertQuery, args...)
	if err != nil {
		return domainauth.PermissionRule{}, r.mapWriteErr(err)
	}
	return out, nil
}

// Update overwrites every mutable column of the rule identified by rule.ID.
func (r *RuleRepo) Update(ctx context.Context, rule domainauth.PermissionRule) (domainauth.PermissionRule, error) {
	if _, err := uuid.Parse(rule.ID); err != nil {
		return domainauth.PermissionRule{}, ErrRuleNotFound
	}
	args := append([]any{rule.ID}, ruleArgs(rule)...)
	args = append(args, r.timeProvider.Now().UTC())
	out, err := r.queryOne(ctx, ruleUpdateQuery, args...)
	if err != nil {
		return domainauth.PermissionRule{}, r.mapWriteErr(err)
	}
	return out, nil
}

// SeedIfEmpty inserts rules only when the table is empty. The table lock
// serializes concurrent seeders so exactly one of them inserts.
func (r *RuleRepo) SeedIfEmpty(ctx context.Context, rules []domainauth.PermissionRule) (int, error) {
	inserted := 0
	now := r.timeProvider.Now().UTC()
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `LOCK TABLE permission_rules IN SHARE ROW EXCLUSIVE MODE`); err != nil {
				return fmt.Errorf("lock permission_rules: %w", err)
			}
			var count int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM permission_rules`).Scan(&count); err != nil {
				return fmt.Errorf("count permission_rules: %w", err)
			}
			if count > 0 {
				return nil
			}
			for _, rule := range rules {
				args := append([]any{uuid.NewString()}, ruleArgs(rule)...)
				args = append(args, now)
				rows, err := tx.Query(ctx, ruleInsertQuery, args...)
				if err != nil {
					return fmt.Errorf("seed rule %q: %w", rule.Name, err)
				}
				rows.Close()
				if err := rows.Err(); err != nil {
					return fmt.Errorf("seed rule %q: %w", rule.Name, err)
				}
				inserted++
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *RuleRepo) queryOne(ctx context.Context, query string, args ...any) (domainauth.PermissionRule, error) {
	var row ruleRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		res, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		row, err = pgx.CollectOneRow(res, pgx.RowToStructByName[ruleRow])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainauth.PermissionRule{}, ErrRuleNotFound
		}
		return domainauth.PermissionRule{}, err
	}
	return row.toDomain()
}

func (r *RuleRepo) mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrRuleNameExists
	}
	return err
}
