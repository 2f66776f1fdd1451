package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/docnet/internal/user/entity"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// nmcConstraint names the partial unique index on users.nmc_number. Any
// other unique violation on users is the email constraint.
const nmcConstraint = "users_nmc_number_key"

const userColumns = `id, email, password_hash, password_algo, role, verified,
		name, specialization, location, nmc_number, created_at, updated_at`

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts u. The unique constraints make the insert the authority
// on uniqueness: a concurrent duplicate yields ErrDuplicateEmail or
// ErrDuplicateNMC depending on which constraint fired.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, email, password_hash, password_algo, role, verified, name, specialization, location, nmc_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, q,
		u.ID, u.Email, u.PasswordHash, u.PasswordAlgo, string(u.Role), u.Verified,
		u.Name, u.Specialization, u.Location, u.NMCNumber)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByEmail returns the user with exactly this email or ErrNotFound.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByNMCNumber fetches the user holding a council credential number.
func (r *UserRepo) GetByNMCNumber(ctx context.Context, nmc string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE nmc_number=$1 LIMIT 1`, nmc)
}

// ListByRole returns all users of a role ordered by creation.
func (r *UserRepo) ListByRole(ctx context.Context, role entity.Role) ([]*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE role=$1 ORDER BY created_at, id`
	var rows []*entity.User
	if err := r.db.SelectContext(ctx, &rows, q, string(role)); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return rows, nil
}

// UpdateProfile sets the non-nil profile fields and returns the updated row.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, p entity.Profile) (*entity.User, error) {
	const q = `UPDATE users SET
			name = COALESCE($2, name),
			specialization = COALESCE($3, specialization),
			location = COALESCE($4, location),
			nmc_number = COALESCE($5, nmc_number),
			updated_at = NOW()
		WHERE id=$1
		RETURNING ` + userColumns
	return r.getOne(ctx, q, id, p.Name, p.Specialization, p.Location, p.NMCNumber)
}

func (r *UserRepo) getOne(ctx context.Context, q string, args ...any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if dup := duplicateError(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// duplicateError maps a unique violation to the sentinel for the
// constraint that fired, or returns nil for any other error.
func duplicateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case nmcConstraint:
		return ErrDuplicateNMC
	default:
		return ErrDuplicateEmail
	}
}
