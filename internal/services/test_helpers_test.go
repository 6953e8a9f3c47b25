package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeClock is a manually advanced Clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockLockoutNotifier records alerts on a channel
type MockLockoutNotifier struct {
	SendLockoutAlertFunc func(ctx context.Context, credentialID string, cumulativeAttempts int) error
	calls                chan lockoutAlert
}

type lockoutAlert struct {
	credentialID string
	attempts     int
}

func newMockNotifier() *MockLockoutNotifier {
	return &MockLockoutNotifier{calls: make(chan lockoutAlert, 16)}
}

func (m *MockLockoutNotifier) SendLockoutAlert(ctx context.Context, credentialID string, cumulativeAttempts int) error {
	m.calls <- lockoutAlert{credentialID: credentialID, attempts: cumulativeAttempts}
	if m.SendLockoutAlertFunc != nil {
		return m.SendLockoutAlertFunc(ctx, credentialID, cumulativeAttempts)
	}
	return nil
}

// MockCredentialVerifier implements CredentialVerifier
type MockCredentialVerifier struct {
	VerifyFunc func(ctx context.Context, credentialID, secret string) (*models.User, error)
}

func (m *MockCredentialVerifier) Verify(ctx context.Context, credentialID, secret string) (*models.User, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, credentialID, secret)
	}
	return nil, models.ErrUnauthorized
}

// MockUserRepository implements UserRepository
type MockUserRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// MockSessionStore wraps an in-memory store and lets tests override single
// operations
type MockSessionStore struct {
	*repositories.MemorySessionStore
	SaveFunc              func(ctx context.Context, session *models.Session) error
	FindByTokenFunc       func(ctx context.Context, authTokenID string) (*models.Session, error)
	FindAllFunc           func(ctx context.Context) ([]*models.Session, error)
	DeleteFunc            func(ctx context.Context, sessionID string) error
	CountActiveByUserFunc func(ctx context.Context, userID string) (int, error)
}

func newMockSessionStore() *MockSessionStore {
	return &MockSessionStore{MemorySessionStore: repositories.NewMemorySessionStore()}
}

func (m *MockSessionStore) Save(ctx context.Context, session *models.Session) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, session)
	}
	return m.MemorySessionStore.Save(ctx, session)
}

func (m *MockSessionStore) FindByToken(ctx context.Context, authTokenID string) (*models.Session, error) {
	if m.FindByTokenFunc != nil {
		return m.FindByTokenFunc(ctx, authTokenID)
	}
	return m.MemorySessionStore.FindByToken(ctx, authTokenID)
}

func (m *MockSessionStore) FindAll(ctx context.Context) ([]*models.Session, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	return m.MemorySessionStore.FindAll(ctx)
}

func (m *MockSessionStore) Delete(ctx context.Context, sessionID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, sessionID)
	}
	return m.MemorySessionStore.Delete(ctx, sessionID)
}

func (m *MockSessionStore) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	if m.CountActiveByUserFunc != nil {
		return m.CountActiveByUserFunc(ctx, userID)
	}
	return m.MemorySessionStore.CountActiveByUser(ctx, userID)
}

// NewTestUser returns an active, verified account
func NewTestUser(id, email, role string) *models.User {
	return &models.User{
		ID:            id,
		Email:         email,
		Name:          "Test User",
		Role:          role,
		Status:        models.UserStatusActive,
		EmailVerified: true,
	}
}
