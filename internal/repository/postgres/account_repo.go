package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

const accountColumns = `id, email, full_name, pwd_hash, salt_auth, roles, permissions, contexts, default_context, professional_profile_id, created_at`

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	contexts, err := json.Marshal(nonNil(a.Contexts))
	if err != nil {
		return fmt.Errorf("encode contexts: %w", err)
	}
	var def []byte
	if a.DefaultContext != nil {
		if def, err = json.Marshal(a.DefaultContext); err != nil {
			return fmt.Errorf("encode default context: %w", err)
		}
	}
	const q = `
INSERT INTO accounts (id, email, full_name, pwd_hash, salt_auth, roles, permissions, contexts, default_context, professional_profile_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.Pool.Exec(ctx, q,
		a.ID, normEmail(a.Email), a.FullName, a.PwdHash, a.SaltAuth,
		nonNil(a.Roles), nonNil(a.Permissions), contexts, def, a.ProfessionalProfileID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email)=$1`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, normEmail(email)))
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a             model.Account
		contexts, def []byte
	)
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.PwdHash, &a.SaltAuth,
		&a.Roles, &a.Permissions, &contexts, &def, &a.ProfessionalProfileID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if len(contexts) > 0 {
		if err := json.Unmarshal(contexts, &a.Contexts); err != nil {
			return nil, fmt.Errorf("decode contexts: %w", err)
		}
	}
	if len(def) > 0 && string(def) != "null" {
		a.DefaultContext = new(model.Context)
		if err := json.Unmarshal(def, a.DefaultContext); err != nil {
			return nil, fmt.Errorf("decode default context: %w", err)
		}
	}
	return &a, nil
}

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
