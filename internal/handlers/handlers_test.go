package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-auth/internal/authn"
	"registry-auth/internal/authz"
	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/session"
)

type fakeAuthenticator struct {
	auth      *authn.Auth
	err       error
	loggedOut []string
	lastLogin authn.Credentials
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, creds authn.Credentials) (*authn.Auth, error) {
	f.lastLogin = creds
	if f.err != nil {
		return nil, f.err
	}
	return f.auth, nil
}

func (f *fakeAuthenticator) Unauthenticate(_ context.Context, accessToken string) {
	f.loggedOut = append(f.loggedOut, accessToken)
}

type fakeAuthorizer struct {
	allowed bool
	user    *session.User
	err     error
	lastReq authz.Request
}

func (f *fakeAuthorizer) Authorize(_ context.Context, req authz.Request) (bool, error) {
	f.lastReq = req
	return f.allowed, f.err
}

func (f *fakeAuthorizer) Whoami(_ context.Context, req authz.Request) (*session.User, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type fakeUserCache struct {
	users map[string]session.User
	err   error
}

func (f *fakeUserCache) SetUser(_ context.Context, accessToken string, user session.User) error {
	if f.err != nil {
		return f.err
	}
	f.users[accessToken] = user
	return nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type env struct {
	handlers *Handlers
	authn    *fakeAuthenticator
	authz    *fakeAuthorizer
	users    *fakeUserCache
	pinger   *fakePinger
}

func newEnv() *env {
	authenticator := &fakeAuthenticator{
		auth: &authn.Auth{
			Token:        "tok-1",
			RefreshToken: "rt-1",
			User:         session.User{Name: "bob", Email: "bob@example.com"},
		},
	}
	authorizer := &fakeAuthorizer{
		allowed: true,
		user:    &session.User{Name: "bob", Email: "bob@example.com"},
	}
	users := &fakeUserCache{users: make(map[string]session.User)}
	pinger := &fakePinger{}
	return &env{
		handlers: New(authenticator, authorizer, users, pinger),
		authn:    authenticator,
		authz:    authorizer,
		users:    users,
		pinger:   pinger,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/login",
			strings.NewReader(`{"email":"bob@example.com","password":"hunter2"}`))
		rec := httptest.NewRecorder()

		e.handlers.HandleLogin(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		body := decodeBody(t, rec)
		assert.Equal(t, "tok-1", body["token"])
		assert.Equal(t, "bob@example.com", e.authn.lastLogin.Email)

		// the user record must be queryable under the new token
		assert.Equal(t, "bob", e.users.users["tok-1"].Name)
	})

	t.Run("malformed body", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/login", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		e.handlers.HandleLogin(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejected credentials map to their status", func(t *testing.T) {
		e := newEnv()
		e.authn.err = apperrors.Unauthorized("password is incorrect")
		req := httptest.NewRequest(http.MethodPost, "/-/v1/login",
			strings.NewReader(`{"email":"bob@example.com","password":"wrong"}`))
		rec := httptest.NewRecorder()

		e.handlers.HandleLogin(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "password is incorrect")
	})

	t.Run("user cache failure is a server error", func(t *testing.T) {
		e := newEnv()
		e.users.err = errors.New("cache down")
		req := httptest.NewRequest(http.MethodPost, "/-/v1/login",
			strings.NewReader(`{"email":"bob@example.com","password":"hunter2"}`))
		rec := httptest.NewRecorder()

		e.handlers.HandleLogin(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleLogout(t *testing.T) {
	t.Run("drops the presented session", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/logout", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()

		e.handlers.HandleLogout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"tok-1"}, e.authn.loggedOut)
	})

	t.Run("succeeds without a token", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/logout", nil)
		rec := httptest.NewRecorder()

		e.handlers.HandleLogout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, e.authn.loggedOut)
	})
}

func TestHandleWhoami(t *testing.T) {
	t.Run("resolves the caller", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodGet, "/-/v1/whoami", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()

		e.handlers.HandleWhoami(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", decodeBody(t, rec)["username"])

		// the descriptor must carry the live request's auth header
		assert.Equal(t, "Bearer tok-1", e.authz.lastReq.Headers.Authorization)
		assert.Equal(t, "/-/v1/whoami", e.authz.lastReq.Path)
	})

	t.Run("unknown session", func(t *testing.T) {
		e := newEnv()
		e.authz.err = apperrors.Unauthorized("please log in again")
		req := httptest.NewRequest(http.MethodGet, "/-/v1/whoami", nil)
		rec := httptest.NewRecorder()

		e.handlers.HandleWhoami(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleAuthorize(t *testing.T) {
	descriptor := `{"method":"GET","path":"/repoX","headers":{"authorization":"Bearer tok-1"}}`

	t.Run("allowed", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/authorize", strings.NewReader(descriptor))
		rec := httptest.NewRecorder()

		e.handlers.HandleAuthorize(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["allowed"])
		assert.Equal(t, "GET", e.authz.lastReq.Method)
	})

	t.Run("denied is still a 200", func(t *testing.T) {
		e := newEnv()
		e.authz.allowed = false
		req := httptest.NewRequest(http.MethodPost, "/-/v1/authorize", strings.NewReader(descriptor))
		rec := httptest.NewRecorder()

		e.handlers.HandleAuthorize(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["allowed"])
	})

	t.Run("engine errors map to their status", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"team mismatch", apperrors.TeamMismatch("teamA", "teamB"), http.StatusBadRequest},
			{"session expired", apperrors.SessionExpired("please log in again"), http.StatusUnauthorized},
			{"no token", apperrors.NotFound("no auth token found"), http.StatusNotFound},
			{"unsupported verb", apperrors.UnsupportedMethod("PATCH"), http.StatusMethodNotAllowed},
			{"upstream", apperrors.Upstream("provider down", nil), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := newEnv()
				e.authz.err = tt.err
				req := httptest.NewRequest(http.MethodPost, "/-/v1/authorize", strings.NewReader(descriptor))
				rec := httptest.NewRecorder()

				e.handlers.HandleAuthorize(rec, req)

				assert.Equal(t, tt.want, rec.Code)
			})
		}
	})

	t.Run("malformed descriptor", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodPost, "/-/v1/authorize", strings.NewReader("not json"))
		rec := httptest.NewRecorder()

		e.handlers.HandleAuthorize(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		e := newEnv()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()

		e.handlers.HandleHealth(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cache unreachable", func(t *testing.T) {
		e := newEnv()
		e.pinger.err = errors.New("connection refused")
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()

		e.handlers.HandleHealth(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
