// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package passwordless_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/otp"
	"codeberg.org/counselpoint/authcore/internal/services/passwordless"
	"codeberg.org/counselpoint/authcore/internal/services/ratelimit"
	"codeberg.org/counselpoint/authcore/internal/services/token"
	"codeberg.org/counselpoint/authcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCode struct {
	email, code string
	expiresAt   time.Time
}

// recordingNotifier captures delivered codes.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (n *recordingNotifier) SendCode(_ context.Context, email, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentCode{email, code, expiresAt})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no code was sent")
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	svc      *passwordless.Service
	repo     *repository.Repository
	notifier *recordingNotifier
	tokens   *token.JWTIssuer
	clock    *testutil.Clock
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	clock := testutil.NewClock()
	tokens, err := token.NewJWTIssuer(token.Config{Secret: []byte(testutil.TestJWTSecret), Now: clock.Now})
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	svc := passwordless.New(
		otp.NewStore(repo, otp.WithClock(clock.Now)),
		ratelimit.New(ratelimit.NewSQLStore(repo), ratelimit.WithClock(clock.Now)),
		notifier,
		repo,
		tokens,
		passwordless.Config{
			MaxRequests:      3,
			Window:           time.Hour,
			ResendCooldown:   time.Minute,
			RegistrationMode: mode,
		},
	)
	logs := &bytes.Buffer{}
	svc.SetLogger(slog.New(slog.NewTextHandler(logs, nil)))
	svc.SetClock(clock.Now)

	return &fixture{svc: svc, repo: repo, notifier: notifier, tokens: tokens, clock: clock, logs: logs}
}

func TestRequestCode(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)

	req, err := f.svc.RequestCode(context.Background(), "  Client@Example.com ")

	require.NoError(t, err)
	assert.Equal(t, time.Minute, req.ResendAfter)
	assert.Equal(t, f.clock.Now().Add(otp.DefaultTTL), req.ExpiresAt)
	sent := f.notifier.last(t)
	assert.Equal(t, "client@example.com", sent.email)
	assert.True(t, otp.ValidCode(sent.code))
	assert.NotContains(t, f.logs.String(), sent.code, "codes are never logged")
}

func TestRequestCode_InvalidEmail(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)

	for _, email := range []string{"", "not-an-email", "a@b", "Name <a@example.com>", "a@example.com, b@example.com"} {
		t.Run(email, func(t *testing.T) {
			_, err := f.svc.RequestCode(context.Background(), email)

			assert.ErrorIs(t, err, passwordless.ErrInvalidEmail)
			assert.ErrorIs(t, err, passwordless.ErrValidation)
		})
	}
	assert.Empty(t, f.notifier.sent)
}

func TestRequestCode_RateLimited(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.RequestCode(ctx, "client@example.com")
		require.NoError(t, err)
	}
	f.clock.Advance(15 * time.Minute)

	_, err := f.svc.RequestCode(ctx, "client@example.com")

	var limited *ratelimit.LimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 45, limited.RetryAfterMinutes())
	assert.Len(t, f.notifier.sent, 3)

	f.clock.Advance(45 * time.Minute)
	_, err = f.svc.RequestCode(ctx, "client@example.com")
	assert.NoError(t, err)
}

func TestResendCode_SharesRateLimit(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "client@example.com")
	require.NoError(t, err)
	first := f.notifier.last(t).code
	for range 2 {
		_, err := f.svc.ResendCode(ctx, "client@example.com")
		require.NoError(t, err)
	}

	_, err = f.svc.ResendCode(ctx, "client@example.com")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)

	latest := f.notifier.last(t).code
	if first != latest {
		_, err = f.svc.VerifyCode(ctx, "client@example.com", first)
		assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
	}
	_, err = f.svc.VerifyCode(ctx, "client@example.com", latest)
	assert.NoError(t, err)
}

func TestRequestCode_DeliveryFailedKeepsCode(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()
	f.notifier.err = errors.New("smtp timeout")

	_, err := f.svc.RequestCode(ctx, "client@example.com")

	assert.ErrorIs(t, err, passwordless.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "smtp timeout")
}

func TestVerifyCode_SignsUpNewUser(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "new@example.com")
	require.NoError(t, err)

	res, err := f.svc.VerifyCode(ctx, "new@example.com", f.notifier.last(t).code)

	require.NoError(t, err)
	assert.NotZero(t, res.User.ID)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.Equal(t, f.clock.Now().Add(token.DefaultTTL), res.ExpiresAt)

	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", claims.Email)

	stored, err := f.repo.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, stored.ID)
}

func TestVerifyCode_ExistingAdmin(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()
	admin := testutil.NewTestUser(t, f.repo, "admin@example.com", models.RoleAdmin)

	_, err := f.svc.RequestCode(ctx, "admin@example.com")
	require.NoError(t, err)
	res, err := f.svc.VerifyCode(ctx, "ADMIN@example.com", f.notifier.last(t).code)

	require.NoError(t, err)
	assert.Equal(t, admin.ID, res.User.ID)
	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestVerifyCode_OnlyOnce(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "client@example.com")
	require.NoError(t, err)
	code := f.notifier.last(t).code

	_, err = f.svc.VerifyCode(ctx, "client@example.com", code)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, "client@example.com", code)
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
}

func TestVerifyCode_InvalidInput(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	_, err := f.svc.VerifyCode(ctx, "bad", "123456")
	assert.ErrorIs(t, err, passwordless.ErrInvalidEmail)

	for _, code := range []string{"", "12345", "1234567", "abcdef"} {
		_, err = f.svc.VerifyCode(ctx, "client@example.com", code)
		assert.ErrorIs(t, err, passwordless.ErrInvalidCode, code)
	}
}

func TestVerifyCode_AttemptsExhausted(t *testing.T) {
	f := newFixture(t, config.RegistrationOpen)
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "client@example.com")
	require.NoError(t, err)
	code := f.notifier.last(t).code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for range 3 {
		_, err = f.svc.VerifyCode(ctx, "client@example.com", wrong)
		assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
	}

	_, err = f.svc.VerifyCode(ctx, "client@example.com", code)
	assert.ErrorIs(t, err, otp.ErrAttemptsExhausted)
}

func TestClosedRegistration(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)
	ctx := context.Background()
	testutil.NewTestUser(t, f.repo, "known@example.com", models.RoleCounselor)

	unknown, err := f.svc.RequestCode(ctx, "stranger@example.com")
	require.NoError(t, err, "unknown emails look like success")
	assert.Empty(t, f.notifier.sent)

	known, err := f.svc.RequestCode(ctx, "known@example.com")
	require.NoError(t, err)
	assert.Equal(t, known.ResendAfter, unknown.ResendAfter)
	assert.Len(t, f.notifier.sent, 1)

	res, err := f.svc.VerifyCode(ctx, "known@example.com", f.notifier.last(t).code)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCounselor, res.User.Role)

	_, err = f.svc.VerifyCode(ctx, "stranger@example.com", "123456")
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpiredCode)
}

func TestClosedRegistration_StillRateLimited(t *testing.T) {
	f := newFixture(t, config.RegistrationClosed)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.RequestCode(ctx, "stranger@example.com")
		require.NoError(t, err)
	}

	_, err := f.svc.RequestCode(ctx, "stranger@example.com")
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"user@example.com", "user@example.com", true},
		{" User@Example.COM ", "user@example.com", true},
		{"first.last+tag@sub.example.org", "first.last+tag@sub.example.org", true},
		{"user@localhost", "", false},
		{"user", "", false},
		{"@example.com", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := passwordless.NormalizeEmail(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, passwordless.ErrInvalidEmail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
