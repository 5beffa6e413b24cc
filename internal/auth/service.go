package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

// Service wraps authentication business rules and resolves the employee
// identity used for authorization.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: validator.New(), logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates the credentials and returns the employee identity.
func (s *Service) Login(ctx context.Context, email, password string) (*User, rbac.Identity, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, rbac.Identity{}, err
	}
	id, err := s.identityFor(ctx, user.ID)
	if err != nil {
		return nil, rbac.Identity{}, err
	}
	return user, id, nil
}

// ResolveIdentity loads the identity bound to the session user id.
func (s *Service) ResolveIdentity(ctx context.Context, userID string) (rbac.Identity, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return rbac.Identity{}, ErrNoSession
	}
	return s.identityFor(ctx, uid)
}

func (s *Service) identityFor(ctx context.Context, userID uuid.UUID) (rbac.Identity, error) {
	emp, err := s.repo.FindEmployeeByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Identity{}, ErrIdentityNotProvisioned
		}
		return rbac.Identity{}, err
	}
	if !emp.IsActive {
		return rbac.Identity{}, ErrIdentityNotProvisioned
	}
	role, err := rbac.ParseRole(emp.Role)
	if err != nil {
		s.logger.Error("employee has unknown role", slog.String("employee_id", emp.ID.String()), slog.String("role", emp.Role))
		return rbac.Identity{}, fmt.Errorf("%w: %v", ErrIdentityNotProvisioned, err)
	}
	perms, unknown := rbac.PermissionsFromFlags(emp.Permissions)
	if len(unknown) > 0 {
		s.logger.Warn("ignoring unknown permission flags",
			slog.String("employee_id", emp.ID.String()),
			slog.Any("flags", unknown),
		)
	}
	return rbac.Identity{
		EmployeeID:  emp.ID,
		UserID:      emp.UserID,
		Code:        emp.Code,
		Name:        emp.Name,
		Email:       emp.Email,
		Role:        role,
		Permissions: perms,
		BranchID:    emp.BranchID,
		BranchName:  emp.BranchName,
	}, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// Provision creates a login and the employee bound to it.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (rbac.Identity, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return rbac.Identity{}, fmt.Errorf("provision employee: %w", err)
	}
	role, err := rbac.ParseRole(string(in.Role))
	if err != nil {
		return rbac.Identity{}, err
	}
	flags := make(map[string]bool, len(in.Permissions))
	for _, c := range in.Permissions {
		flags[string(c)] = true
	}
	perms, unknown := rbac.PermissionsFromFlags(flags)
	if len(unknown) > 0 {
		return rbac.Identity{}, fmt.Errorf("provision employee: unknown capabilities %v", unknown)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return rbac.Identity{}, err
	}

	user := User{ID: uuid.New(), Email: in.Email, PasswordHash: string(hash), IsActive: true}
	emp := Employee{
		ID:          uuid.New(),
		UserID:      user.ID,
		Code:        in.Code,
		Name:        in.Name,
		Email:       in.Email,
		Role:        string(role),
		Permissions: perms.Flags(),
		BranchID:    in.BranchID,
		IsActive:    true,
	}
	if err := s.repo.CreateEmployee(ctx, user, emp); err != nil {
		return rbac.Identity{}, err
	}
	s.logger.Info("employee provisioned", slog.String("employee_id", emp.ID.String()), slog.String("role", emp.Role))
	return rbac.Identity{
		EmployeeID:  emp.ID,
		UserID:      user.ID,
		Code:        emp.Code,
		Name:        emp.Name,
		Email:       emp.Email,
		Role:        role,
		Permissions: perms,
		BranchID:    emp.BranchID,
	}, nil
}

var _ rbac.IdentityResolver = (*Service)(nil)
