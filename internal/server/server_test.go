// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/models"
	"codeberg.org/counselpoint/authcore/internal/repository"
	"codeberg.org/counselpoint/authcore/internal/services/email"
	"codeberg.org/counselpoint/authcore/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendCode(_ context.Context, to, code string, _ time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[to] = code
	return nil
}

func (i *inbox) code(to string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[to]
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "localhost", Port: 8080, MaxBodySize: 64},
		TLS:      config.TLSConfig{Mode: config.TLSModeOff},
		Session:  config.SessionConfig{CookieName: "_session", MaxAge: 3600, HashKey: testutil.TestHashKey},
		JWT:      config.JWTConfig{Secret: testutil.TestJWTSecret, Method: config.JWTMethodHS256, Issuer: "authcore", ExpiresIn: time.Hour},
		OTP:      config.OTPConfig{TTL: 10 * time.Minute, MaxAttempts: 3, ResendCooldown: time.Minute},
		RateLimit: config.RateLimitConfig{
			Backend:     config.RateLimitBackendSQL,
			MaxRequests: 3,
			Window:      time.Hour,
		},
		Auth:    config.AuthConfig{RegistrationMode: config.RegistrationOpen},
		Sweeper: config.SweeperConfig{Interval: time.Minute},
	}
}

type appFixture struct {
	app   *App
	repo  *repository.Repository
	inbox *inbox
	clock *testutil.Clock
}

func newAppFixture(t *testing.T, cfg *config.Config) *appFixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	box := &inbox{codes: map[string]string{}}
	clock := testutil.NewClock()

	app, err := New(context.Background(), cfg, repo, WithNotifier(box), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	return &appFixture{app: app, repo: repo, inbox: box, clock: clock}
}

func (f *appFixture) do(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := testutil.NewRequest(method, path, strings.NewReader(body))
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.app.Echo.ServeHTTP(rec, req)
	return rec
}

func (f *appFixture) signIn(t *testing.T, addr, mode string) *httptest.ResponseRecorder {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"`+addr+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/api/auth/otp/verify",
		`{"email":"`+addr+`","code":"`+f.inbox.code(addr)+`","mode":"`+mode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func (f *appFixture) token(t *testing.T, addr string) string {
	t.Helper()
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(f.signIn(t, addr, "token").Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestHealthRoute(t *testing.T) {
	f := newAppFixture(t, testConfig())

	rec := f.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUnknownRoute_JSONError(t *testing.T) {
	f := newAppFixture(t, testConfig())

	rec := f.do(http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found"`)
}

func TestSignIn_TokenFlow(t *testing.T) {
	f := newAppFixture(t, testConfig())
	tok := f.token(t, "client@example.com")

	rec := f.do(http.MethodGet, "/api/auth/me", "", bearer(tok))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"client@example.com"`)
	assert.Contains(t, rec.Body.String(), `"role":"user"`)
	assert.Contains(t, rec.Body.String(), `"source":"bearer"`)
}

func TestSignIn_CookieFlow(t *testing.T) {
	f := newAppFixture(t, testConfig())
	cookies := f.signIn(t, "client@example.com", "cookie").Result().Cookies()
	require.Len(t, cookies, 1)

	rec := f.do(http.MethodGet, "/api/auth/me", "", func(r *http.Request) { r.AddCookie(cookies[0]) })

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"cookie"`)
}

func TestMe_Unauthenticated(t *testing.T) {
	f := newAppFixture(t, testConfig())

	rec := f.do(http.MethodGet, "/api/auth/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes_Gated(t *testing.T) {
	f := newAppFixture(t, testConfig())
	testutil.NewTestUser(t, f.repo, "dana@example.com", models.RoleCounselor)
	admin := testutil.NewTestUser(t, f.repo, "admin@example.com", models.RoleAdmin)
	counselorTok := f.token(t, "dana@example.com")
	adminTok := f.token(t, "admin@example.com")

	rec := f.do(http.MethodGet, "/api/admin/users", "", bearer(counselorTok))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin access required")

	rec = f.do(http.MethodGet, "/api/counselor/ping", "", bearer(counselorTok))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/users", "", bearer(adminTok))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/api/admin/users/"+strconv.FormatInt(admin.ID, 10)+"/role", `{"role":"counselor"}`, bearer(adminTok))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCounselorPing_UserDenied(t *testing.T) {
	f := newAppFixture(t, testConfig())
	tok := f.token(t, "client@example.com")

	rec := f.do(http.MethodGet, "/api/counselor/ping", "", bearer(tok))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin or counselor access required")
}

func TestRateLimit_AdminReset(t *testing.T) {
	f := newAppFixture(t, testConfig())
	testutil.NewTestUser(t, f.repo, "admin@example.com", models.RoleAdmin)
	adminTok := f.token(t, "admin@example.com")

	for range 3 {
		rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"client@example.com"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"client@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	rec = f.do(http.MethodDelete, "/api/admin/rate-limits/client@example.com", "", bearer(adminTok))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"client@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSweeper_FollowsAppClock(t *testing.T) {
	f := newAppFixture(t, testConfig())
	rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"sweep@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	otps, _ := f.app.Sweeper.Sweep(context.Background())
	assert.Zero(t, otps)

	f.clock.Advance(11 * time.Minute)
	otps, _ = f.app.Sweeper.Sweep(context.Background())
	assert.Equal(t, int64(1), otps)
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RateLimit.Backend = config.RateLimitBackendRedis
	cfg.Redis.Addr = mr.Addr()
	f := newAppFixture(t, cfg)

	for range 3 {
		rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"client@example.com"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/auth/otp/request", `{"email":"client@example.com"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, mr.Keys())
}

func TestNew_RedisUnreachable(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := testConfig()
	cfg.RateLimit.Backend = config.RateLimitBackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, repo)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestNew_InvalidJWT(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := testConfig()
	cfg.JWT.Secret = "short"

	_, err := New(context.Background(), cfg, repo)

	require.Error(t, err)
}

func TestNewNotifier(t *testing.T) {
	cfg := testConfig()

	n, err := newNotifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, email.LogNotifier{}, n)

	cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", TLS: "starttls"}
	n, err = newNotifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &email.SMTPNotifier{}, n)

	cfg.SMTP.From = ""
	_, err = newNotifier(cfg)
	assert.Error(t, err)
}
