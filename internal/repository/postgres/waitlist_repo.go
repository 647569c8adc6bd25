package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"waitlistgate/internal/domain"
)

const entryColumns = `id, email, name, handle, startup_name, startup_stage, city, links, status,
		created_at, approved_at, activated_at, activation_token_hash, activation_token_expires_at`

type waitlistRepository struct {
	DB *sql.DB
}

// NewWaitlistRepository returns a domain.WaitlistRepository implemented with Postgres.
// Every status transition is one UPDATE guarded by the expected current state.
func NewWaitlistRepository(db *sql.DB) domain.WaitlistRepository {
	return &waitlistRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.WaitlistEntry, error) {
	var (
		e                       domain.WaitlistEntry
		handle, tokenHash       sql.NullString
		approvedAt, activatedAt sql.NullTime
		expiresAt               sql.NullTime
		links                   pq.StringArray
	)
	err := row.Scan(&e.ID, &e.Email, &e.Name, &handle, &e.StartupName, &e.StartupStage, &e.City, &links, &e.Status,
		&e.CreatedAt, &approvedAt, &activatedAt, &tokenHash, &expiresAt)
	if err != nil {
		return nil, err
	}
	e.Handle = handle.String
	e.Links = []string(links)
	e.ActivationTokenHash = tokenHash.String
	e.ApprovedAt = timePtr(approvedAt)
	e.ActivatedAt = timePtr(activatedAt)
	e.ActivationTokenExpiresAt = timePtr(expiresAt)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *waitlistRepository) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	query := `
		INSERT INTO waitlist_entries (email, name, handle, startup_name, startup_stage, city, links, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := conn(ctx, r.DB).QueryRowContext(ctx, query, e.Email, e.Name, e.Handle, e.StartupName, e.StartupStage, e.City,
		pq.StringArray(e.Links), e.Status, e.CreatedAt).Scan(&e.ID)
	if pqErr, ok := isUniqueViolation(err); ok {
		if strings.Contains(pqErr.Constraint, "handle") {
			return domain.ErrHandleTaken
		}
		return domain.ErrDuplicateEmail
	}
	return storeErr(err)
}

func (r *waitlistRepository) GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *waitlistRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.WaitlistEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE activation_token_hash = $1`
	return r.getOne(ctx, query, tokenHash)
}

func (r *waitlistRepository) getOne(ctx context.Context, query string, args ...any) (*domain.WaitlistEntry, error) {
	e, err := scanEntry(conn(ctx, r.DB).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr(err)
	}
	return e, nil
}

func (r *waitlistRepository) HandleExists(ctx context.Context, handle string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM waitlist_entries WHERE lower(handle) = lower($1))`
	var exists bool
	if err := conn(ctx, r.DB).QueryRowContext(ctx, query, handle).Scan(&exists); err != nil {
		return false, storeErr(err)
	}
	return exists, nil
}

func (r *waitlistRepository) List(ctx context.Context, status domain.EntryStatus, p domain.PaginationParams) ([]*domain.WaitlistEntry, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM waitlist_entries WHERE ($1::text = '' OR status = $1)`
	if err := conn(ctx, r.DB).QueryRowContext(ctx, countQuery, string(status)).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	query := `
		SELECT ` + entryColumns + `
		FROM waitlist_entries
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := conn(ctx, r.DB).QueryContext(ctx, query, string(status), p.Limit(), p.Offset())
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	entries := []*domain.WaitlistEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err)
	}
	return entries, total, nil
}

func (r *waitlistRepository) Approve(ctx context.Context, id, tokenHash string, approvedAt, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	query := `
		UPDATE waitlist_entries
		SET status = 'approved', approved_at = $2, activation_token_hash = $3, activation_token_expires_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + entryColumns
	return r.transition(ctx, domain.StatusPending, domain.StatusApproved, query, id, approvedAt, tokenHash, expiresAt)
}

func (r *waitlistRepository) ReplaceToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	query := `
		UPDATE waitlist_entries
		SET activation_token_hash = $2, activation_token_expires_at = $3
		WHERE id = $1 AND status = 'approved'
		RETURNING ` + entryColumns
	return r.transition(ctx, domain.StatusApproved, domain.StatusApproved, query, id, tokenHash, expiresAt)
}

// Redeem relies on row locking: a concurrent second UPDATE re-checks the WHERE
// clause against the committed row, finds the token cleared, and matches nothing.
func (r *waitlistRepository) Redeem(ctx context.Context, tokenHash string, now time.Time) (*domain.WaitlistEntry, error) {
	query := `
		UPDATE waitlist_entries
		SET status = 'activated',
			activated_at = GREATEST($2, approved_at),
			activation_token_hash = NULL,
			activation_token_expires_at = NULL
		WHERE activation_token_hash = $1
			AND status = 'approved'
			AND activation_token_expires_at > $2
		RETURNING ` + entryColumns
	return r.transition(ctx, domain.StatusApproved, domain.StatusActivated, query, tokenHash, now)
}

// transition runs a conditional update moving an entry from one status to another.
// from == to rewrites fields in place without a status change.
func (r *waitlistRepository) transition(ctx context.Context, from, to domain.EntryStatus, query string, args ...any) (*domain.WaitlistEntry, error) {
	if from != to && !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidState, from, to)
	}
	e, err := scanEntry(conn(ctx, r.DB).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPreconditionFailed
		}
		return nil, storeErr(err)
	}
	if e.Status != to {
		return nil, fmt.Errorf("%w: entry %s is %s after update to %s", domain.ErrEntryInconsistent, e.ID, e.Status, to)
	}
	return e, nil
}

func (r *waitlistRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := conn(ctx, r.DB).QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist_entries`).Scan(&n); err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *waitlistRepository) Position(ctx context.Context, id string) (int64, error) {
	query := `
		SELECT (
			SELECT COUNT(*) FROM waitlist_entries w WHERE w.created_at < e.created_at
		) + 1
		FROM waitlist_entries e
		WHERE e.id = $1
	`
	var rank int64
	if err := conn(ctx, r.DB).QueryRowContext(ctx, query, id).Scan(&rank); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, storeErr(err)
	}
	return rank, nil
}
