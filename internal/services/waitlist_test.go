package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"waitlistgate/internal/adapters/auth"
	"waitlistgate/internal/adapters/cache"
	"waitlistgate/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWaitlistRepo implements domain.WaitlistRepository in memory with the same
// conditional-update semantics as the Postgres repository.
type fakeWaitlistRepo struct {
	mu         sync.Mutex
	entries    map[string]*domain.WaitlistEntry
	seq        int
	countErr   error
	countCalls int
	posErr     error
	// lostRace makes Approve miss its row as if a concurrent writer got there first.
	lostRace bool
}

func newFakeWaitlistRepo() *fakeWaitlistRepo {
	return &fakeWaitlistRepo{entries: make(map[string]*domain.WaitlistEntry)}
}

func clone(e *domain.WaitlistEntry) *domain.WaitlistEntry {
	cp := *e
	return &cp
}

func (f *fakeWaitlistRepo) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make(map[string]*domain.WaitlistEntry, len(f.entries))
	for id, e := range f.entries {
		saved[id] = clone(e)
	}
	seq := f.seq
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.entries, f.seq = saved, seq
	}
}

func (f *fakeWaitlistRepo) Create(ctx context.Context, e *domain.WaitlistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.entries {
		if existing.Email == e.Email {
			return domain.ErrDuplicateEmail
		}
		if e.Handle != "" && existing.Handle == e.Handle {
			return domain.ErrHandleTaken
		}
	}
	f.seq++
	e.ID = fmt.Sprintf("entry-%d", f.seq)
	f.entries[e.ID] = clone(e)
	return nil
}

func (f *fakeWaitlistRepo) GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(e), nil
}

func (f *fakeWaitlistRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ActivationTokenHash != "" && e.ActivationTokenHash == tokenHash {
			return clone(e), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeWaitlistRepo) HandleExists(ctx context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Handle == handle {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWaitlistRepo) List(ctx context.Context, status domain.EntryStatus, p domain.PaginationParams) ([]*domain.WaitlistEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*domain.WaitlistEntry
	for _, e := range f.entries {
		if status == "" || e.Status == status {
			all = append(all, clone(e))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	start := min(p.Offset(), len(all))
	end := min(start+p.Limit(), len(all))
	return all[start:end], len(all), nil
}

func (f *fakeWaitlistRepo) Approve(ctx context.Context, id, tokenHash string, approvedAt, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || f.lostRace || !e.Status.CanTransitionTo(domain.StatusApproved) {
		return nil, domain.ErrPreconditionFailed
	}
	e.Status = domain.StatusApproved
	e.ApprovedAt = &approvedAt
	e.ActivationTokenHash = tokenHash
	e.ActivationTokenExpiresAt = &expiresAt
	return clone(e), nil
}

func (f *fakeWaitlistRepo) ReplaceToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*domain.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.Status != domain.StatusApproved {
		return nil, domain.ErrPreconditionFailed
	}
	e.ActivationTokenHash = tokenHash
	e.ActivationTokenExpiresAt = &expiresAt
	return clone(e), nil
}

func (f *fakeWaitlistRepo) Redeem(ctx context.Context, tokenHash string, now time.Time) (*domain.WaitlistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ActivationTokenHash != tokenHash || !e.Status.CanTransitionTo(domain.StatusActivated) || !e.ActivationTokenExpiresAt.After(now) {
			continue
		}
		activatedAt := now
		if e.ApprovedAt.After(now) {
			activatedAt = *e.ApprovedAt
		}
		e.Status = domain.StatusActivated
		e.ActivatedAt = &activatedAt
		e.ActivationTokenHash = ""
		e.ActivationTokenExpiresAt = nil
		return clone(e), nil
	}
	return nil, domain.ErrPreconditionFailed
}

func (f *fakeWaitlistRepo) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.entries)), nil
}

func (f *fakeWaitlistRepo) Position(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return 0, f.posErr
	}
	e, ok := f.entries[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	var ahead int64
	for _, other := range f.entries {
		if other.CreatedAt.Before(e.CreatedAt) {
			ahead++
		}
	}
	return ahead + 1, nil
}

// fakeEmailService records activation links and optionally fails.
type fakeEmailService struct {
	mu   sync.Mutex
	sent []*domain.ActivationEmailData
	err  error
}

func (f *fakeEmailService) SendActivationLink(ctx context.Context, data *domain.ActivationEmailData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

// fakeProvisioner implements domain.AccountProvisioner for tests.
type fakeProvisioner struct {
	reqs []domain.ProvisionRequest
	err  error
}

func (f *fakeProvisioner) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	return &domain.Session{Token: "jwt", TokenType: "Bearer", User: &domain.User{ID: "user-1", Email: req.Email}}, nil
}

// fakeTxManager restores every participant when fn fails. Transactions are not
// isolated from each other, so tests using it run them one at a time.
type fakeTxManager struct {
	participants []interface{ snapshot() func() }
	commits      int
	rollbacks    int
}

type fakeTxKey struct{}

func (m *fakeTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	restores := make([]func(), 0, len(m.participants))
	for _, p := range m.participants {
		restores = append(restores, p.snapshot())
	}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type waitlistFixture struct {
	svc         domain.WaitlistService
	repo        *fakeWaitlistRepo
	email       *fakeEmailService
	provisioner *fakeProvisioner
	tx          *fakeTxManager
	clock       *testClock
}

func newWaitlistFixture(t *testing.T) *waitlistFixture {
	t.Helper()
	f := &waitlistFixture{
		repo:        newFakeWaitlistRepo(),
		email:       &fakeEmailService{},
		provisioner: &fakeProvisioner{},
		clock:       &testClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)},
	}
	f.tx = &fakeTxManager{participants: []interface{ snapshot() func() }{f.repo}}
	f.svc = f.build(f.provisioner)
	return f
}

// build wires a service over the fixture's stores with the given account provisioner.
func (f *waitlistFixture) build(accounts domain.AccountProvisioner) domain.WaitlistService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counts := cache.NewCountCache(time.Minute, cache.WithCountClock(f.clock.Now))
	return NewWaitlistService(f.repo, f.tx, auth.NewActivationTokenIssuer(), f.email, accounts, counts,
		WaitlistConfig{ActivationBaseURL: "https://app.example.com/"}, logger, WithWaitlistClock(f.clock.Now))
}

func (f *waitlistFixture) join(t *testing.T, email string) *domain.WaitlistEntry {
	t.Helper()
	e, _, err := f.svc.Join(context.Background(), domain.JoinInput{Email: email, Name: "Ada"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return e
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	_, token, ok := strings.Cut(link, "/activate?token=")
	require.True(t, ok, "unexpected link %q", link)
	return token
}

func TestWaitlistService_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and returns position", func(t *testing.T) {
		f := newWaitlistFixture(t)
		f.join(t, "first@example.com")
		e, rank, err := f.svc.Join(ctx, domain.JoinInput{
			Email: "  Second@Example.COM ", Name: " Grace ", Handle: "@Grace_H",
			Links: []string{"https://grace.dev", " "},
		})
		require.NoError(t, err)
		assert.Equal(t, "second@example.com", e.Email)
		assert.Equal(t, "Grace", e.Name)
		assert.Equal(t, "grace_h", e.Handle)
		assert.Equal(t, []string{"https://grace.dev"}, e.Links)
		assert.Equal(t, domain.StatusPending, e.Status)
		assert.Equal(t, int64(2), rank)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newWaitlistFixture(t)
		tests := []struct {
			name string
			in   domain.JoinInput
		}{
			{"bad email", domain.JoinInput{Email: "nope", Name: "A"}},
			{"missing name", domain.JoinInput{Email: "a@example.com"}},
			{"bad handle", domain.JoinInput{Email: "a@example.com", Name: "A", Handle: "x!"}},
			{"reserved handle", domain.JoinInput{Email: "a@example.com", Name: "A", Handle: "admin"}},
			{"bad link", domain.JoinInput{Email: "a@example.com", Name: "A", Links: []string{"ftp://x"}}},
			{"too many links", domain.JoinInput{Email: "a@example.com", Name: "A", Links: []string{"https://a.io", "https://b.io", "https://c.io", "https://d.io", "https://e.io", "https://f.io"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := f.svc.Join(ctx, tt.in)
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
			})
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newWaitlistFixture(t)
		f.join(t, "a@example.com")
		_, _, err := f.svc.Join(ctx, domain.JoinInput{Email: "A@example.com", Name: "Again"})
		assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
	})

	t.Run("position failure does not fail join", func(t *testing.T) {
		f := newWaitlistFixture(t)
		f.repo.posErr = domain.ErrBackingStoreUnavailable
		e, rank, err := f.svc.Join(ctx, domain.JoinInput{Email: "a@example.com", Name: "A"})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.Zero(t, rank)
	})
}

func TestWaitlistService_HandleAvailable(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	_, _, err := f.svc.Join(ctx, domain.JoinInput{Email: "a@example.com", Name: "A", Handle: "taken"})
	require.NoError(t, err)

	tests := []struct {
		handle string
		want   bool
	}{
		{"free_one", true},
		{"@Free_One", true},
		{"taken", false},
		{"TAKEN", false},
		{"admin", false},
		{"x", false},
		{"has space", false},
	}
	for _, tt := range tests {
		t.Run(tt.handle, func(t *testing.T) {
			ok, err := f.svc.HandleAvailable(ctx, tt.handle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestWaitlistService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to approved with 7 day token", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		now := f.clock.Now()

		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, approval.NotificationSent)
		assert.Equal(t, now.Add(7*24*time.Hour), approval.ExpiresAt)
		assert.GreaterOrEqual(t, len(approval.Token), 32)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, stored.Status)
		assert.Equal(t, now, *stored.ApprovedAt)
		assert.NotEqual(t, approval.Token, stored.ActivationTokenHash)
		assert.NoError(t, stored.Validate())

		require.Len(t, f.email.sent, 1)
		assert.True(t, strings.HasPrefix(f.email.sent[0].Link, "https://app.example.com/activate?token="))
		assert.Equal(t, approval.Token, tokenFromLink(t, f.email.sent[0].Link))
	})

	t.Run("not found", func(t *testing.T) {
		f := newWaitlistFixture(t)
		_, err := f.svc.Approve(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("already approved is a conflict", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		_, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, e.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Len(t, f.email.sent, 1)
	})

	t.Run("lost race on a still pending entry asks for retry", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		f.repo.lostRace = true

		_, err := f.svc.Approve(ctx, e.ID)
		require.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Contains(t, err.Error(), "retry")
		assert.Empty(t, f.email.sent)
	})

	t.Run("email failure is partial success", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		f.email.err = errors.New("smtp down")

		approval, err := f.svc.Approve(ctx, e.ID)
		require.ErrorIs(t, err, domain.ErrNotificationFailed)
		require.NotNil(t, approval)
		assert.False(t, approval.NotificationSent)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, stored.Status)
	})
}

func TestWaitlistService_OversizedTokenBytesStayRedeemable(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewWaitlistService(f.repo, f.tx, auth.NewActivationTokenIssuer(), f.email, f.provisioner,
		cache.NewCountCache(time.Minute), WaitlistConfig{TokenBytes: 4096}, logger, WithWaitlistClock(f.clock.Now))

	e := f.join(t, "a@example.com")
	approval, err := svc.Approve(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, approval.Token, 2*MaxActivationTokenBytes)

	_, err = svc.Redeem(ctx, approval.Token)
	assert.NoError(t, err)
}

func TestWaitlistService_ReissueToken(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	e := f.join(t, "a@example.com")

	_, err := f.svc.ReissueToken(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	first, err := f.svc.Approve(ctx, e.ID)
	require.NoError(t, err)
	f.clock.Advance(8 * 24 * time.Hour)

	second, err := f.svc.ReissueToken(ctx, e.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = f.svc.Redeem(ctx, first.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.svc.Redeem(ctx, second.Token)
	require.NoError(t, err)

	_, err = f.svc.ReissueToken(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyActivated)
	_, err = f.svc.ReissueToken(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitlistService_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)

		got, err := f.svc.Redeem(ctx, approval.Token)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, "a@example.com", got.Email)
		assert.Equal(t, domain.StatusActivated, got.Status)
		assert.Empty(t, got.ActivationTokenHash)
		assert.Nil(t, got.ActivationTokenExpiresAt)
		assert.NoError(t, got.Validate())

		_, err = f.svc.Redeem(ctx, approval.Token)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("expired token does not mutate", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)
		f.clock.Advance(7*24*time.Hour + time.Second)

		_, err = f.svc.Redeem(ctx, approval.Token)
		assert.ErrorIs(t, err, domain.ErrTokenExpired)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, stored.Status)
		assert.NotEmpty(t, stored.ActivationTokenHash)
	})

	t.Run("unknown and malformed tokens", func(t *testing.T) {
		f := newWaitlistFixture(t)
		for _, tok := range []string{"", "short", strings.Repeat("z", 64), strings.Repeat("a", 33), strings.Repeat("ab", 32)} {
			_, err := f.svc.Redeem(ctx, tok)
			assert.ErrorIs(t, err, domain.ErrInvalidToken, "token %q", tok)
		}
	})

	t.Run("concurrent redemption succeeds once", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.svc.Redeem(ctx, approval.Token)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				failures = append(failures, err)
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		require.Len(t, failures, workers-1)
		for _, err := range failures {
			assert.True(t, errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrAlreadyActivated), "unexpected error %v", err)
		}
	})
}

func TestWaitlistService_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions account with profile", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e, _, err := f.svc.Join(ctx, domain.JoinInput{Email: "a@example.com", Name: "Ada", Handle: "ada", City: "London"})
		require.NoError(t, err)
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)

		act, err := f.svc.Activate(ctx, approval.Token, "correct-horse")
		require.NoError(t, err)
		require.NotNil(t, act.Session)
		assert.Equal(t, domain.StatusActivated, act.Entry.Status)
		require.Len(t, f.provisioner.reqs, 1)
		assert.Equal(t, "a@example.com", f.provisioner.reqs[0].Email)
		assert.Equal(t, map[string]string{"handle": "ada", "city": "London"}, f.provisioner.reqs[0].Profile)
	})

	t.Run("short password keeps token", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)

		_, err = f.svc.Activate(ctx, approval.Token, "short")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = f.svc.Redeem(ctx, approval.Token)
		assert.NoError(t, err)
	})

	t.Run("provisioning failure rolls back and the same token retries", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)

		f.provisioner.err = fmt.Errorf("%w: transient db outage", domain.ErrBackingStoreUnavailable)
		act, err := f.svc.Activate(ctx, approval.Token, "correct-horse")
		require.ErrorIs(t, err, domain.ErrBackingStoreUnavailable)
		assert.Nil(t, act)
		assert.Equal(t, 1, f.tx.rollbacks)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, stored.Status)
		assert.NotEmpty(t, stored.ActivationTokenHash)

		f.provisioner.err = nil
		act, err = f.svc.Activate(ctx, approval.Token, "correct-horse")
		require.NoError(t, err)
		require.NotNil(t, act.Session)
		assert.Equal(t, domain.StatusActivated, act.Entry.Status)
		assert.Len(t, f.provisioner.reqs, 1)

		_, err = f.svc.Activate(ctx, approval.Token, "correct-horse")
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
		assert.Len(t, f.provisioner.reqs, 1)
	})

	t.Run("role grant failure leaves no partial account", func(t *testing.T) {
		f := newWaitlistFixture(t)
		users, roles := newFakeUserRepo(), newFakeRoleRepo()
		f.tx.participants = append(f.tx.participants, users)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		accounts := NewAccountService(users, roles, f.tx, fakePasswordHasher{}, &fakeAccessTokenIssuer{}, time.Hour, logger)
		svc := f.build(accounts)

		e := f.join(t, "a@example.com")
		approval, err := svc.Approve(ctx, e.ID)
		require.NoError(t, err)

		users.assignErr = errors.New("connection reset")
		_, err = svc.Activate(ctx, approval.Token, "correct-horse")
		require.Error(t, err)
		assert.Empty(t, users.byEmail)

		users.assignErr = nil
		act, err := svc.Activate(ctx, approval.Token, "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", act.Session.User.Email)
		assert.Len(t, users.byEmail, 1)
		assert.Equal(t, []string{"role-member"}, users.assigned[act.Session.User.ID])
	})

	t.Run("existing account email keeps the token redeemable", func(t *testing.T) {
		f := newWaitlistFixture(t)
		e := f.join(t, "a@example.com")
		approval, err := f.svc.Approve(ctx, e.ID)
		require.NoError(t, err)
		f.provisioner.err = domain.ErrDuplicateEmail

		_, err = f.svc.Activate(ctx, approval.Token, "correct-horse")
		require.ErrorIs(t, err, domain.ErrDuplicateEmail)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, stored.Status)
		_, err = f.svc.ReissueToken(ctx, e.ID)
		assert.NoError(t, err)
	})
}

func TestWaitlistService_Position(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	base := f.clock.Now()

	insert := func(email string, at time.Time) *domain.WaitlistEntry {
		e := domain.NewWaitlistEntry(email, "x", at)
		require.NoError(t, f.repo.Create(ctx, e))
		return e
	}
	e1 := insert("one@example.com", base.Add(1*time.Minute))
	e2 := insert("two@example.com", base.Add(2*time.Minute))
	e3 := insert("three@example.com", base.Add(3*time.Minute))

	for want, e := range []*domain.WaitlistEntry{e1, e2, e3} {
		rank, err := f.svc.Position(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(want+1), rank)
	}

	// An earlier created_at shifts everyone behind it.
	e0 := insert("zero@example.com", base)
	rank, err := f.svc.Position(ctx, e0.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)
	rank, err = f.svc.Position(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	_, err = f.svc.Position(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitlistService_Count(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	f.join(t, "a@example.com")

	res, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CountResult{Value: 1}, res)

	f.join(t, "b@example.com")
	res, err = f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value, "served from cache within TTL")
	assert.Equal(t, 1, f.repo.countCalls)

	f.clock.Advance(2 * time.Minute)
	f.repo.countErr = domain.ErrBackingStoreUnavailable
	res, err = f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CountResult{Value: 1, Stale: true}, res)
}

func TestWaitlistService_Count_ColdFailure(t *testing.T) {
	f := newWaitlistFixture(t)
	f.repo.countErr = errors.New("connection refused")
	_, err := f.svc.Count(context.Background())
	assert.ErrorIs(t, err, domain.ErrBackingStoreUnavailable)
}

func TestWaitlistService_List(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	a := f.join(t, "a@example.com")
	f.join(t, "b@example.com")
	f.join(t, "c@example.com")
	_, err := f.svc.Approve(ctx, a.ID)
	require.NoError(t, err)

	pending, total, err := f.svc.List(ctx, domain.StatusPending, domain.PaginationParams{Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, pending, 1)
	assert.Equal(t, "b@example.com", pending[0].Email)

	_, _, err = f.svc.List(ctx, "archived", domain.PaginationParams{Page: 1, PageSize: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
