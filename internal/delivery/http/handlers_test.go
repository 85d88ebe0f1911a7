package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveyforge/backend/internal/config"
	"github.com/surveyforge/backend/internal/domain"
	"github.com/surveyforge/backend/internal/middleware"
	"github.com/surveyforge/backend/internal/notify"
	"github.com/surveyforge/backend/internal/usecase"
)

// ----- minimal in-memory repositories -----

type stubUsers struct{ byID map[uuid.UUID]*domain.User }

func (s *stubUsers) Create(_ context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.byID[u.ID] = u
	return nil
}

func (s *stubUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	return s.byID[id], nil
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range s.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	if u, ok := s.byID[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (s *stubUsers) UpdateLastLogin(context.Context, uuid.UUID) error { return nil }
func (s *stubUsers) Deactivate(context.Context, uuid.UUID) error     { return nil }

type stubTokens struct{ byHash map[string]*domain.RefreshToken }

func (s *stubTokens) Create(_ context.Context, t *domain.RefreshToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.byHash[t.TokenHash] = t
	return nil
}

func (s *stubTokens) GetByTokenHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	return s.byHash[hash], nil
}

func (s *stubTokens) Rotate(_ context.Context, oldID uuid.UUID, successor *domain.RefreshToken, ip string) (bool, error) {
	for _, t := range s.byHash {
		if t.ID == oldID && t.RevokedAt == nil {
			now := time.Now().UTC()
			t.RevokedAt = &now
			t.RevokedByIP = ip
			if successor.ID == uuid.Nil {
				successor.ID = uuid.New()
			}
			t.ReplacedBy = &successor.ID
			s.byHash[successor.TokenHash] = successor
			return true, nil
		}
	}
	return false, nil
}

func (s *stubTokens) Revoke(_ context.Context, hash, ip string) (bool, error) {
	if t, ok := s.byHash[hash]; ok && t.RevokedAt == nil {
		now := time.Now().UTC()
		t.RevokedAt = &now
		t.RevokedByIP = ip
		return true, nil
	}
	return false, nil
}

func (s *stubTokens) RevokeAllForUser(_ context.Context, userID uuid.UUID, ip string) (int64, error) {
	var n int64
	for _, t := range s.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			now := time.Now().UTC()
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *stubTokens) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type stubResets struct{ byHash map[string]*domain.PasswordResetToken }

func (s *stubResets) Create(_ context.Context, t *domain.PasswordResetToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.byHash[t.TokenHash] = t
	return nil
}

func (s *stubResets) GetByTokenHash(_ context.Context, hash string) (*domain.PasswordResetToken, error) {
	return s.byHash[hash], nil
}

func (s *stubResets) Consume(_ context.Context, id, _ uuid.UUID, _ string) (bool, error) {
	for _, t := range s.byHash {
		if t.ID == id && t.UsedAt == nil {
			now := time.Now().UTC()
			t.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (s *stubResets) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type stubEvents struct{}

func (stubEvents) Create(context.Context, *domain.LoginEvent) error { return nil }
func (stubEvents) ListByUser(context.Context, uuid.UUID, int, int) ([]*domain.LoginEvent, error) {
	return nil, nil
}

// ----- fixture -----

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Load()
	cfg.Auth.BcryptCost = 4
	cfg.Auth.JWTSecret = "test-secret"

	sessions := usecase.NewSessionUsecase(
		&stubUsers{byID: map[uuid.UUID]*domain.User{}},
		&stubTokens{byHash: map[string]*domain.RefreshToken{}},
		&stubResets{byHash: map[string]*domain.PasswordResetToken{}},
		stubEvents{},
		notify.Nop{},
		&cfg.Auth,
		log,
	)
	handler := NewHandler(sessions, log)
	router := NewRouter(handler, middleware.NewAuthMiddleware(sessions), cfg, nil, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type authPayload struct {
	User struct {
		Email string `json:"email"`
	} `json:"user"`
	Tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	return nil
}

// ----- tests -----

func TestSignupEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1", "full_name": "A B",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cookie := refreshCookie(t, resp)
	require.NotNil(t, cookie, "refresh token is mirrored into an HttpOnly cookie")
	assert.True(t, cookie.HttpOnly)

	payload := decode[authPayload](t, resp)
	assert.Equal(t, "a@x.com", payload.User.Email)
	assert.NotEmpty(t, payload.Tokens.AccessToken)
	assert.NotEmpty(t, payload.Tokens.RefreshToken)

	// Duplicate signup conflicts.
	resp = postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginEndpointUniformError(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wrongPass := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]string{
		"email": "a@x.com", "password": "Wrong1234",
	})
	noUser := postJSON(t, srv.URL+"/api/v1/auth/login", map[string]string{
		"email": "nobody@x.com", "password": "Abcdefg1",
	})
	require.Equal(t, http.StatusUnauthorized, wrongPass.StatusCode)
	require.Equal(t, http.StatusUnauthorized, noUser.StatusCode)

	a := decode[map[string]string](t, wrongPass)
	b := decode[map[string]string](t, noUser)
	assert.Equal(t, a["error"], b["error"], "nothing may distinguish the two cases")
}

func TestRefreshPrefersCookie(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cookie := refreshCookie(t, resp)
	payload := decode[authPayload](t, resp)

	// Cookie alone is enough; the body token is ignored when both are sent.
	resp = postJSON(t, srv.URL+"/api/v1/auth/refresh",
		map[string]string{"refresh_token": "garbage-in-body"}, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decode[map[string]any](t, resp)
	assert.NotEmpty(t, refreshed["refresh_token"])
	assert.NotEqual(t, payload.Tokens.RefreshToken, refreshed["refresh_token"])

	// The rotated-away token is dead, whichever channel carries it.
	resp = postJSON(t, srv.URL+"/api/v1/auth/refresh",
		map[string]string{"refresh_token": payload.Tokens.RefreshToken})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutIsIdempotentAtTransport(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	payload := decode[authPayload](t, resp)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/v1/auth/logout",
			map[string]string{"refresh_token": payload.Tokens.RefreshToken})
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestPasswordResetRequestUniformResponse(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	known := postJSON(t, srv.URL+"/api/v1/auth/password-reset/request",
		map[string]string{"email": "a@x.com"})
	unknown := postJSON(t, srv.URL+"/api/v1/auth/password-reset/request",
		map[string]string{"email": "nonexistent@x.com"})
	require.Equal(t, http.StatusOK, known.StatusCode)
	require.Equal(t, http.StatusOK, unknown.StatusCode)

	a := decode[map[string]string](t, known)
	b := decode[map[string]string](t, unknown)
	assert.Equal(t, a["message"], b["message"])
}

func TestMeRequiresBearer(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/auth/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	signup := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	require.Equal(t, http.StatusCreated, signup.StatusCode)
	payload := decode[authPayload](t, signup)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+payload.Tokens.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	me := decode[map[string]any](t, resp)
	assert.Equal(t, "a@x.com", me["email"])
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	srv := newTestServer(t)

	signup := postJSON(t, srv.URL+"/api/v1/auth/signup", map[string]string{
		"email": "a@x.com", "password": "Abcdefg1",
	})
	require.Equal(t, http.StatusCreated, signup.StatusCode)
	payload := decode[authPayload](t, signup)

	target := srv.URL + "/api/v1/admin/users/" + uuid.NewString() + "/deactivate"

	resp, err := http.Post(target, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, target, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+payload.Tokens.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
