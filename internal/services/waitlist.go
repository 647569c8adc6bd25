package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"waitlistgate/internal/domain"
)

const (
	// DefaultActivationTokenTTL is the validity window of a freshly issued activation token.
	DefaultActivationTokenTTL   = 7 * 24 * time.Hour
	defaultActivationTokenBytes = 32
	// MaxActivationTokenBytes keeps hex tokens within the 256 characters redemption accepts.
	MaxActivationTokenBytes = 128
	minPasswordLen              = 8
	maxNameLen                  = 100
	maxLinks                    = 5
)

var (
	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	// Activation tokens are lowercase hex of at least 16 random bytes.
	tokenRegexp  = regexp.MustCompile(`^[0-9a-f]{32,256}$`)
	handleRegexp = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

	reservedHandles = map[string]struct{}{
		"admin": {}, "root": {}, "support": {}, "help": {}, "api": {}, "www": {}, "waitlist": {}, "activate": {},
	}
)

// WaitlistConfig tunes token issuance and activation links.
type WaitlistConfig struct {
	TokenTTL   time.Duration
	TokenBytes int
	// ActivationBaseURL is the public app origin; links are <base>/activate?token=<token>.
	ActivationBaseURL string
}

type waitlistService struct {
	repo     domain.WaitlistRepository
	tx       domain.TransactionManager
	tokens   domain.ActivationTokenIssuer
	email    domain.EmailService
	accounts domain.AccountProvisioner
	counts   domain.CountCache
	cfg      WaitlistConfig
	logger   *slog.Logger
	now      func() time.Time
}

type WaitlistOption func(*waitlistService)

// WithWaitlistClock injects the time source used for approval, expiry, and redemption.
func WithWaitlistClock(now func() time.Time) WaitlistOption {
	return func(s *waitlistService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewWaitlistService creates the admission service. It is the only writer of entry status and token fields.
func NewWaitlistService(
	repo domain.WaitlistRepository,
	tx domain.TransactionManager,
	tokens domain.ActivationTokenIssuer,
	email domain.EmailService,
	accounts domain.AccountProvisioner,
	counts domain.CountCache,
	cfg WaitlistConfig,
	logger *slog.Logger,
	opts ...WaitlistOption,
) domain.WaitlistService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultActivationTokenTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaultActivationTokenBytes
	}
	cfg.TokenBytes = min(cfg.TokenBytes, MaxActivationTokenBytes)
	cfg.ActivationBaseURL = strings.TrimSuffix(cfg.ActivationBaseURL, "/")
	s := &waitlistService{
		repo:     repo,
		tx:       tx,
		tokens:   tokens,
		email:    email,
		accounts: accounts,
		counts:   counts,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *waitlistService) Join(ctx context.Context, in domain.JoinInput) (*domain.WaitlistEntry, int64, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if !emailRegexp.MatchString(email) {
		return nil, 0, fmt.Errorf("%w: invalid email format", domain.ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLen {
		return nil, 0, fmt.Errorf("%w: name is required and at most %d characters", domain.ErrInvalidInput, maxNameLen)
	}
	handle := normalizeHandle(in.Handle)
	if handle != "" && !handleAllowed(handle) {
		return nil, 0, fmt.Errorf("%w: handle is not available", domain.ErrInvalidInput)
	}
	links, err := cleanLinks(in.Links)
	if err != nil {
		return nil, 0, err
	}

	entry := domain.NewWaitlistEntry(email, name, s.now())
	entry.Handle = handle
	entry.StartupName = strings.TrimSpace(in.StartupName)
	entry.StartupStage = strings.TrimSpace(in.StartupStage)
	entry.City = strings.TrimSpace(in.City)
	entry.Links = links
	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) || errors.Is(err, domain.ErrHandleTaken) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("create entry: %w", err)
	}

	rank, err := s.repo.Position(ctx, entry.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "position unavailable after join", "entry_id", entry.ID, "err", err)
		rank = 0
	}
	return entry, rank, nil
}

// HandleAvailable answers only yes or no: malformed, reserved, and taken handles look the same.
func (s *waitlistService) HandleAvailable(ctx context.Context, handle string) (bool, error) {
	handle = normalizeHandle(handle)
	if !handleAllowed(handle) {
		return false, nil
	}
	exists, err := s.repo.HandleExists(ctx, handle)
	if err != nil {
		return false, fmt.Errorf("check handle: %w", err)
	}
	return !exists, nil
}

func (s *waitlistService) Approve(ctx context.Context, entryID string) (*domain.Approval, error) {
	token, err := s.tokens.Issue(s.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate activation token: %w", err)
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	entry, err := s.repo.Approve(ctx, entryID, hashToken(token), now, expiresAt)
	if err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return nil, s.approveConflict(ctx, entryID)
		}
		return nil, fmt.Errorf("approve entry: %w", err)
	}
	s.logger.InfoContext(ctx, "entry approved", "entry_id", entry.ID, "expires_at", expiresAt)
	return s.sendActivation(ctx, entry, token, expiresAt)
}

func (s *waitlistService) approveConflict(ctx context.Context, entryID string) error {
	current, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get entry: %w", err)
	}
	if current.Status.CanTransitionTo(domain.StatusApproved) {
		return fmt.Errorf("%w: entry changed during approval, retry", domain.ErrInvalidState)
	}
	return fmt.Errorf("%w: entry is %s", domain.ErrInvalidState, current.Status)
}

// ReissueToken replaces the token of an approved entry and re-sends the activation email.
func (s *waitlistService) ReissueToken(ctx context.Context, entryID string) (*domain.Approval, error) {
	token, err := s.tokens.Issue(s.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate activation token: %w", err)
	}
	expiresAt := s.now().Add(s.cfg.TokenTTL)

	entry, err := s.repo.ReplaceToken(ctx, entryID, hashToken(token), expiresAt)
	if err != nil {
		if !errors.Is(err, domain.ErrPreconditionFailed) {
			return nil, fmt.Errorf("replace token: %w", err)
		}
		current, err := s.repo.GetByID(ctx, entryID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.ErrNotFound
		case err != nil:
			return nil, fmt.Errorf("get entry: %w", err)
		case current.Status == domain.StatusActivated:
			return nil, domain.ErrAlreadyActivated
		default:
			return nil, fmt.Errorf("%w: entry is %s", domain.ErrInvalidState, current.Status)
		}
	}
	s.logger.InfoContext(ctx, "activation token reissued", "entry_id", entry.ID, "expires_at", expiresAt)
	return s.sendActivation(ctx, entry, token, expiresAt)
}

// sendActivation mails the link after the transition committed. A failed send
// leaves the entry approved and is reported as ErrNotificationFailed with the approval.
func (s *waitlistService) sendActivation(ctx context.Context, entry *domain.WaitlistEntry, token string, expiresAt time.Time) (*domain.Approval, error) {
	approval := &domain.Approval{
		EntryID:   entry.ID,
		Email:     entry.Email,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	data := &domain.ActivationEmailData{
		Email:     entry.Email,
		Name:      entry.Name,
		Link:      s.activationLink(token),
		ExpiresAt: expiresAt,
	}
	if err := s.email.SendActivationLink(ctx, data); err != nil {
		s.logger.WarnContext(ctx, "activation email failed", "entry_id", entry.ID, "err", err)
		return approval, fmt.Errorf("%w: %w", domain.ErrNotificationFailed, err)
	}
	approval.NotificationSent = true
	return approval, nil
}

func (s *waitlistService) activationLink(token string) string {
	return s.cfg.ActivationBaseURL + "/activate?token=" + url.QueryEscape(token)
}

// Redeem activates the entry holding token. The token is cleared in the same
// update, so of two concurrent redemptions exactly one succeeds.
func (s *waitlistService) Redeem(ctx context.Context, token string) (*domain.WaitlistEntry, error) {
	entry, err := s.redeem(ctx, token)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "entry activated", "entry_id", entry.ID)
	return entry, nil
}

func (s *waitlistService) redeem(ctx context.Context, token string) (*domain.WaitlistEntry, error) {
	token = strings.TrimSpace(token)
	if !tokenRegexp.MatchString(token) || len(token)%2 != 0 {
		return nil, domain.ErrInvalidToken
	}
	now := s.now()
	digest := hashToken(token)

	entry, err := s.repo.Redeem(ctx, digest, now)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		return nil, fmt.Errorf("redeem token: %w", err)
	}

	current, err := s.repo.GetByTokenHash(ctx, digest)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrInvalidToken
	case err != nil:
		return nil, fmt.Errorf("look up token: %w", err)
	case current.Status == domain.StatusActivated:
		return nil, domain.ErrAlreadyActivated
	case current.TokenExpired(now):
		return nil, domain.ErrTokenExpired
	default:
		return nil, domain.ErrInvalidToken
	}
}

// Activate redeems token and provisions the account in one transaction. When
// provisioning fails the redemption rolls back and the token stays usable.
// The password is checked first so a rejected request does not touch the token.
func (s *waitlistService) Activate(ctx context.Context, token, password string) (*domain.Activation, error) {
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	}

	var activation domain.Activation
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		entry, err := s.redeem(ctx, token)
		if err != nil {
			return err
		}
		session, err := s.accounts.Provision(ctx, domain.ProvisionRequest{
			Email:    entry.Email,
			Name:     entry.Name,
			Password: password,
			Profile:  profileOf(entry),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "account provisioning failed, activation rolled back", "entry_id", entry.ID, "err", err)
			return fmt.Errorf("provision account: %w", err)
		}
		activation = domain.Activation{Entry: entry, Session: session}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "entry activated", "entry_id", activation.Entry.ID)
	return &activation, nil
}

func (s *waitlistService) Position(ctx context.Context, entryID string) (int64, error) {
	rank, err := s.repo.Position(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("get position: %w", err)
	}
	return rank, nil
}

func (s *waitlistService) Count(ctx context.Context) (domain.CountResult, error) {
	res, err := s.counts.Get(ctx, s.repo.Count)
	if err != nil {
		return domain.CountResult{}, fmt.Errorf("count entries: %w", err)
	}
	if res.Stale {
		s.logger.WarnContext(ctx, "serving stale waitlist count", "value", res.Value)
	}
	return res, nil
}

func (s *waitlistService) List(ctx context.Context, status domain.EntryStatus, p domain.PaginationParams) ([]*domain.WaitlistEntry, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	entries, total, err := s.repo.List(ctx, status, p)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	return entries, total, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(strings.ToLower(h)), "@")
}

func handleAllowed(h string) bool {
	if !handleRegexp.MatchString(h) {
		return false
	}
	_, reserved := reservedHandles[h]
	return !reserved
}

func cleanLinks(links []string) ([]string, error) {
	if len(links) > maxLinks {
		return nil, fmt.Errorf("%w: at most %d links", domain.ErrInvalidInput, maxLinks)
	}
	var out []string
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		u, err := url.Parse(l)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: link %q must be an http(s) URL", domain.ErrInvalidInput, l)
		}
		out = append(out, l)
	}
	return out, nil
}

func profileOf(e *domain.WaitlistEntry) map[string]string {
	profile := map[string]string{}
	if e.Handle != "" {
		profile["handle"] = e.Handle
	}
	if e.StartupName != "" {
		profile["startup_name"] = e.StartupName
	}
	if e.StartupStage != "" {
		profile["startup_stage"] = e.StartupStage
	}
	if e.City != "" {
		profile["city"] = e.City
	}
	return profile
}
