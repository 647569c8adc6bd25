package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for account operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Role codes.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is an account provisioned after activation, or an operator account.
// swagger:model User
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser returns a new User with the given fields. ID is set by the repository on create.
func NewUser(email, name string, createdAt time.Time) *User {
	return &User{
		Email:     email,
		Name:      name,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// Role represents an application role (e.g. admin, member)
type Role struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// NewRole returns a new Role with the given id and code.
func NewRole(id, code string) *Role {
	return &Role{ID: id, Code: code}
}

// Session is an access token handed to an authenticated user.
type Session struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	User      *User  `json:"user"`
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the claims carry role.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PasswordHasher handles salt generation, hashing, and verification.
// Implementations may use bcrypt, argon2, etc.
type PasswordHasher interface {
	GenerateSalt() (string, error)
	Hash(salt, password string) (hash string, err error)
	Compare(hash, salt, password string) error
}

// AccessTokenIssuer issues access tokens (e.g. JWT) for an authenticated user.
type AccessTokenIssuer interface {
	Issue(userID, email string, roles []string, expiry time.Duration) (string, error)
}

// AccessTokenVerifier verifies an access token and returns its claims.
type AccessTokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// UserRepository defines the interface for user storage
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	AssignRole(ctx context.Context, userID, roleID string) error
}

// RoleRepository defines the interface for role storage
type RoleRepository interface {
	GetByCode(ctx context.Context, code string) (*Role, error)
	ListByUserID(ctx context.Context, userID string) ([]*Role, error)
}

// ProvisionRequest carries what the account provisioner needs after a redemption.
type ProvisionRequest struct {
	Email    string
	Name     string
	Password string
	Profile  map[string]string
}

// AccountProvisioner creates the downstream account for an activated entry.
type AccountProvisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Session, error)
}

// AuthService authenticates existing accounts.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*Session, error)
}
