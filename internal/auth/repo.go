package auth

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks -source=repo.go Repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindEmployeeByUserID(ctx context.Context, userID uuid.UUID) (*Employee, error)
	CreateSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	CreateEmployee(ctx context.Context, user User, employee Employee) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindEmployeeByUserID loads the employee bound to userID with its branch.
func (r *PGRepository) FindEmployeeByUserID(ctx context.Context, userID uuid.UUID) (*Employee, error) {
	var (
		e     Employee
		perms []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT e.id, e.user_id, e.code, e.name, u.email, e.role, e.permissions,
			e.branch_id, COALESCE(b.name, ''), e.is_active AND u.is_active
		FROM employees e
		JOIN users u ON u.id = e.user_id
		LEFT JOIN branches b ON b.id = e.branch_id
		WHERE e.user_id = $1`, userID).
		Scan(&e.ID, &e.UserID, &e.Code, &e.Name, &e.Email, &e.Role, &perms, &e.BranchID, &e.BranchName, &e.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	e.Permissions = map[string]bool{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &e.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for employee %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// CreateSession persists a new login session for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`, id, userID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// CreateEmployee inserts the user and the employee in one transaction.
func (r *PGRepository) CreateEmployee(ctx context.Context, user User, employee Employee) error {
	perms, err := json.Marshal(employee.Permissions)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, password_hash, is_active) VALUES ($1, $2, $3, TRUE)`,
			user.ID, user.Email, user.PasswordHash); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO employees (id, user_id, code, name, role, permissions, branch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			employee.ID, user.ID, employee.Code, employee.Name, employee.Role, perms, employee.BranchID)
		return err
	})
}

var _ Repository = (*PGRepository)(nil)
