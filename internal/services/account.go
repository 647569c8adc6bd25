package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"waitlistgate/internal/domain"
)

const tokenTypeBearer = "Bearer"

// AccountService provisions member accounts for activated entries and logs existing accounts in.
type AccountService struct {
	userRepo    domain.UserRepository
	roleRepo    domain.RoleRepository
	tx          domain.TransactionManager
	hasher      domain.PasswordHasher
	tokenIssuer domain.AccessTokenIssuer
	tokenExpiry time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewAccountService creates an AccountService with the given repositories and auth ports.
func NewAccountService(userRepo domain.UserRepository, roleRepo domain.RoleRepository, tx domain.TransactionManager, hasher domain.PasswordHasher, tokenIssuer domain.AccessTokenIssuer, tokenExpiry time.Duration, logger *slog.Logger) *AccountService {
	return &AccountService{
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		tx:          tx,
		hasher:      hasher,
		tokenIssuer: tokenIssuer,
		tokenExpiry: tokenExpiry,
		logger:      logger,
		now:         time.Now,
	}
}

// Provision creates a member account and returns a signed-in session for it.
// The user row and its role grant are written in one transaction.
func (s *AccountService) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.Session, error) {
	email, err := checkCredentials(req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	var (
		user *domain.User
		role *domain.Role
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if user, err = s.createUser(ctx, email, req.Name, req.Password); err != nil {
			return err
		}
		role, err = s.grantRole(ctx, user.ID, domain.RoleMember)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account provisioned", "user_id", user.ID)

	return s.session(user, []string{role.Code})
}

// EnsureAdmin makes sure the account for email holds the admin role, creating
// it with password when it does not exist. An existing account keeps its password.
func (s *AccountService) EnsureAdmin(ctx context.Context, email, password, name string) error {
	email, err := checkCredentials(email, password)
	if err != nil {
		return err
	}

	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := s.userRepo.GetByEmail(ctx, email)
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			if user, err = s.createUser(ctx, email, name, password); err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "admin account created", "user_id", user.ID)
		case err != nil:
			return fmt.Errorf("failed to get user: %w", err)
		default:
			roles, err := s.roleRepo.ListByUserID(ctx, user.ID)
			if err != nil {
				return fmt.Errorf("failed to load roles: %w", err)
			}
			for _, r := range roles {
				if r.Code == domain.RoleAdmin {
					return nil
				}
			}
		}

		if _, err := s.grantRole(ctx, user.ID, domain.RoleAdmin); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "admin role granted", "user_id", user.ID)
		return nil
	})
}

func checkCredentials(email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if !emailRegexp.MatchString(email) {
		return "", fmt.Errorf("%w: invalid email format", domain.ErrInvalidInput)
	}
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	}
	return email, nil
}

func (s *AccountService) createUser(ctx context.Context, email, name, password string) (*domain.User, error) {
	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	hash, err := s.hasher.Hash(salt, password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.NewUser(email, strings.TrimSpace(name), s.now())
	user.PasswordHash = hash
	user.Salt = salt
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *AccountService) grantRole(ctx context.Context, userID, code string) (*domain.Role, error) {
	role, err := s.roleRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get role %q: %w", code, err)
	}
	if err := s.userRepo.AssignRole(ctx, userID, role.ID); err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return role, nil
}

// Login verifies email and password. Unknown email and wrong password both return ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, user.Salt, password); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	roles, err := s.roleRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	codes := make([]string, len(roles))
	for i, r := range roles {
		codes[i] = r.Code
	}
	return s.session(user, codes)
}

func (s *AccountService) session(user *domain.User, roles []string) (*domain.Session, error) {
	token, err := s.tokenIssuer.Issue(user.ID, user.Email, roles, s.tokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &domain.Session{Token: token, TokenType: tokenTypeBearer, User: user}, nil
}
