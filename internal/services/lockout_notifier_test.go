package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/authcore/internal/models"
)

func knownUsers(users ...*models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			for _, u := range users {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
	}
}

func (f *fakeSESSender) recipients() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.sent...)
}

type fakeSESSender struct {
	mu    sync.Mutex
	input *ses.SendEmailInput
	sent  [][]string
	err   error
}

func (f *fakeSESSender) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = params
	f.sent = append(f.sent, params.Destination.ToAddresses)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESLockoutNotifier_SendLockoutAlert(t *testing.T) {
	sender := &fakeSESSender{}
	notifier := newSESLockoutNotifier(sender, knownUsers(NewTestUser("u1", testCred, models.RoleUser)), "security@example.com", "https://example.com/reset", testLogger())

	err := notifier.SendLockoutAlert(context.Background(), testCred, 7)
	require.NoError(t, err)

	require.NotNil(t, sender.input)
	assert.Equal(t, "security@example.com", aws.ToString(sender.input.Source))
	assert.Equal(t, []string{testCred}, sender.input.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(sender.input.Message.Body.Text.Data), "7 failed attempts")
	assert.Contains(t, aws.ToString(sender.input.Message.Body.Html.Data), "https://example.com/reset")
}

func TestSESLockoutNotifier_SendFailure(t *testing.T) {
	sender := &fakeSESSender{err: errors.New("throttled")}
	notifier := newSESLockoutNotifier(sender, knownUsers(NewTestUser("u1", testCred, models.RoleUser)), "security@example.com", "", testLogger())

	err := notifier.SendLockoutAlert(context.Background(), testCred, 5)
	assert.ErrorContains(t, err, "throttled")
}

func TestLogLockoutNotifier(t *testing.T) {
	assert.NoError(t, NewLogLockoutNotifier(testLogger()).SendLockoutAlert(context.Background(), testCred, 5))
}

func TestSESLockoutNotifier_SkipsUnknownAndUnverified(t *testing.T) {
	unverified := NewTestUser("u2", "pending@example.com", models.RoleUser)
	unverified.EmailVerified = false

	sender := &fakeSESSender{}
	notifier := newSESLockoutNotifier(sender, knownUsers(unverified), "security@example.com", "", testLogger())

	require.NoError(t, notifier.SendLockoutAlert(context.Background(), "victim@elsewhere.org", 5))
	require.NoError(t, notifier.SendLockoutAlert(context.Background(), "pending@example.com", 5))
	assert.Empty(t, sender.recipients())
}

func TestSESLockoutNotifier_LookupFailure(t *testing.T) {
	sender := &fakeSESSender{}
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	notifier := newSESLockoutNotifier(sender, users, "security@example.com", "", testLogger())

	err := notifier.SendLockoutAlert(context.Background(), testCred, 5)
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, sender.recipients())
}

func TestAuthService_LockoutOfUnknownEmailSendsNoMail(t *testing.T) {
	sender := &fakeSESSender{}
	owner := NewTestUser("u1", testCred, models.RoleUser)
	notifier := newSESLockoutNotifier(sender, knownUsers(owner), "security@example.com", "", testLogger())

	ledger := NewAttemptLedger(DefaultAttemptLedgerConfig(), newFakeClock(), notifier, nil, testLogger())
	ledger.SetSleeper(func(time.Duration) {})
	verifier := &MockCredentialVerifier{
		VerifyFunc: func(ctx context.Context, credentialID, secret string) (*models.User, error) {
			return nil, models.ErrUnauthorized
		},
	}
	svc := NewAuthService(verifier, nil, ledger, nil, nil, nil, testLogger(), nil)

	for i := 0; i < 5; i++ {
		_, err := svc.Login(context.Background(), "victim@elsewhere.org", "guess", testSource, "test-agent")
		require.Error(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := svc.Login(context.Background(), testCred, "guess", testSource, "test-agent")
		require.Error(t, err)
	}

	assert.Eventually(t, func() bool { return len(sender.recipients()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(sender.recipients()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, [][]string{{testCred}}, sender.recipients())
}
