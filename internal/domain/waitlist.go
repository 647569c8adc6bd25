package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for admission operations.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("entry is not in a valid state for this operation")
	ErrInvalidToken     = errors.New("invalid activation token")
	ErrTokenExpired     = errors.New("activation token expired")
	ErrAlreadyActivated = errors.New("entry already activated")
	ErrHandleTaken      = errors.New("handle already taken")
	// ErrNotificationFailed marks a partial success: the transition committed but the email was not delivered.
	ErrNotificationFailed = errors.New("activation email could not be delivered")
	// ErrPreconditionFailed is returned by conditional updates that matched no row.
	ErrPreconditionFailed = errors.New("conditional update matched no rows")
	// ErrBackingStoreUnavailable wraps store failures that callers may retry with backoff.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
	// ErrEntryInconsistent marks a stored entry whose fields contradict its status.
	ErrEntryInconsistent = errors.New("entry fields inconsistent with status")
)

// EntryStatus is the admission lifecycle state of a waitlist entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusApproved  EntryStatus = "approved"
	StatusActivated EntryStatus = "activated"
)

// Valid reports whether s is one of the known statuses.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusActivated:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is the single legal successor of s.
// The lifecycle is pending -> approved -> activated, with no skips and no regressions.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved
	case StatusApproved:
		return next == StatusActivated
	}
	return false
}

// WaitlistEntry represents one applicant.
// swagger:model WaitlistEntry
type WaitlistEntry struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Handle       string      `json:"handle,omitempty"`
	StartupName  string      `json:"startup_name,omitempty"`
	StartupStage string      `json:"startup_stage,omitempty"`
	City         string      `json:"city,omitempty"`
	Links        []string    `json:"links,omitempty"`
	Status       EntryStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ApprovedAt   *time.Time  `json:"approved_at,omitempty"`
	ActivatedAt  *time.Time  `json:"activated_at,omitempty"`

	// Only the SHA-256 digest of the activation token is stored.
	ActivationTokenHash      string     `json:"-"`
	ActivationTokenExpiresAt *time.Time `json:"activation_token_expires_at,omitempty"`
}

// NewWaitlistEntry returns a pending entry created at createdAt.
func NewWaitlistEntry(email, name string, createdAt time.Time) *WaitlistEntry {
	return &WaitlistEntry{
		Email:     email,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: createdAt,
	}
}

// Validate checks the per-status field invariants of the entry. Violations wrap ErrEntryInconsistent.
func (e *WaitlistEntry) Validate() error {
	hasToken := e.ActivationTokenHash != ""
	if hasToken != (e.ActivationTokenExpiresAt != nil) {
		return fmt.Errorf("%w: entry %s: token digest and expiry must be set together", ErrEntryInconsistent, e.ID)
	}
	switch e.Status {
	case StatusPending:
		if e.ApprovedAt != nil || e.ActivatedAt != nil || hasToken {
			return fmt.Errorf("%w: entry %s: pending entry carries approval fields", ErrEntryInconsistent, e.ID)
		}
	case StatusApproved:
		if e.ApprovedAt == nil || e.ActivatedAt != nil || !hasToken {
			return fmt.Errorf("%w: entry %s: approved entry needs approved_at and a token, and no activated_at", ErrEntryInconsistent, e.ID)
		}
	case StatusActivated:
		if e.ApprovedAt == nil || e.ActivatedAt == nil || hasToken {
			return fmt.Errorf("%w: entry %s: activated entry needs both timestamps and no token", ErrEntryInconsistent, e.ID)
		}
		if e.ActivatedAt.Before(*e.ApprovedAt) {
			return fmt.Errorf("%w: entry %s: activated_at before approved_at", ErrEntryInconsistent, e.ID)
		}
	default:
		return fmt.Errorf("%w: entry %s: unknown status %q", ErrEntryInconsistent, e.ID, e.Status)
	}
	return nil
}

// TokenExpired reports whether the stored token is past its expiry at now.
func (e *WaitlistEntry) TokenExpired(now time.Time) bool {
	return e.ActivationTokenExpiresAt != nil && !now.Before(*e.ActivationTokenExpiresAt)
}

// Approval is the result of issuing an activation token for an entry.
type Approval struct {
	EntryID          string    `json:"entry_id"`
	Email            string    `json:"email"`
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	NotificationSent bool      `json:"notification_sent"`
}

// Activation is returned after a token is redeemed and the account provisioned.
type Activation struct {
	Entry   *WaitlistEntry `json:"entry"`
	Session *Session       `json:"session,omitempty"`
}

// CountResult is the public aggregate counter, possibly served stale.
type CountResult struct {
	Value int64 `json:"value"`
	Stale bool  `json:"stale"`
}

// JoinInput holds the applicant-supplied fields for a new entry.
type JoinInput struct {
	Email        string
	Name         string
	Handle       string
	StartupName  string
	StartupStage string
	City         string
	Links        []string
}

// WaitlistRepository is the durable entry store. Transition methods are single
// conditional updates and return ErrPreconditionFailed when no row matched.
type WaitlistRepository interface {
	Create(ctx context.Context, entry *WaitlistEntry) error
	GetByID(ctx context.Context, id string) (*WaitlistEntry, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*WaitlistEntry, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
	List(ctx context.Context, status EntryStatus, p PaginationParams) ([]*WaitlistEntry, int, error)
	// Approve sets a pending entry to approved and stores the token digest.
	Approve(ctx context.Context, id, tokenHash string, approvedAt, expiresAt time.Time) (*WaitlistEntry, error)
	// ReplaceToken swaps the token of an approved entry.
	ReplaceToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*WaitlistEntry, error)
	// Redeem activates the approved entry holding an unexpired tokenHash and clears the token.
	Redeem(ctx context.Context, tokenHash string, now time.Time) (*WaitlistEntry, error)
	Count(ctx context.Context) (int64, error)
	// Position returns the 1-based rank of the entry by created_at from a single query.
	Position(ctx context.Context, id string) (int64, error)
}

// ActivationTokenIssuer generates unguessable activation tokens.
type ActivationTokenIssuer interface {
	Issue(byteLength int) (string, error)
}

// WaitlistService defines the admission lifecycle and public waitlist queries.
type WaitlistService interface {
	Join(ctx context.Context, in JoinInput) (*WaitlistEntry, int64, error)
	HandleAvailable(ctx context.Context, handle string) (bool, error)
	Approve(ctx context.Context, entryID string) (*Approval, error)
	ReissueToken(ctx context.Context, entryID string) (*Approval, error)
	Redeem(ctx context.Context, token string) (*WaitlistEntry, error)
	Activate(ctx context.Context, token, password string) (*Activation, error)
	Position(ctx context.Context, entryID string) (int64, error)
	Count(ctx context.Context) (CountResult, error)
	List(ctx context.Context, status EntryStatus, p PaginationParams) ([]*WaitlistEntry, int, error)
}
