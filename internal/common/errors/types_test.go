package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := Unauthorized("bad token")
		assert.Equal(t, "unauthorized: bad token", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Upstream("privileges fetch failed", cause)
		assert.Contains(t, err.Error(), "privileges fetch failed")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAuthError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := SessionPersistence("could not store refresh token", cause)
	assert.ErrorIs(t, err, cause)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *AuthError
		kind   Kind
		status int
	}{
		{"invalid credentials", InvalidCredentials("missing email"), KindInvalidCredentials, http.StatusBadRequest},
		{"unauthorized", Unauthorized("nope"), KindUnauthorized, http.StatusUnauthorized},
		{"not team member", NotTeamMember("teamA"), KindNotTeamMember, http.StatusUnauthorized},
		{"team mismatch", TeamMismatch("teamA", "repoX"), KindTeamMismatch, http.StatusBadRequest},
		{"invalid repo url", InvalidRepoURL("https://host/x"), KindInvalidRepoURL, http.StatusBadRequest},
		{"session expired", SessionExpired("please log in again"), KindSessionExpired, http.StatusUnauthorized},
		{"session persistence", SessionPersistence("write failed", nil), KindSessionPersistence, http.StatusInternalServerError},
		{"unsupported method", UnsupportedMethod("PATCH"), KindUnsupportedMethod, http.StatusMethodNotAllowed},
		{"not found", NotFound("no token"), KindNotFound, http.StatusNotFound},
		{"upstream", Upstream("front door down", nil), KindUpstream, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.status, StatusOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.kind))
		})
	}
}

func TestForStatus(t *testing.T) {
	t.Run("401 maps to unauthorized", func(t *testing.T) {
		err := ForStatus(401, "token rejected", nil)
		assert.Equal(t, KindUnauthorized, err.Kind)
		assert.Equal(t, http.StatusUnauthorized, err.StatusCode)
	})

	t.Run("other statuses stay upstream", func(t *testing.T) {
		err := ForStatus(503, "bitbucket down", nil)
		assert.Equal(t, KindUpstream, err.Kind)
		assert.Equal(t, 503, err.StatusCode)
	})

	t.Run("zero status defaults to 500", func(t *testing.T) {
		err := ForStatus(0, "no response", nil)
		assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	})
}

func TestKindOf(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(nil))
	})

	t.Run("wrapped auth error", func(t *testing.T) {
		err := fmt.Errorf("authorize: %w", SessionExpired("please log in again"))
		assert.Equal(t, KindSessionExpired, KindOf(err))
		assert.True(t, IsKind(err, KindSessionExpired))
		assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	})

	t.Run("plain error is unclassified", func(t *testing.T) {
		err := errors.New("something odd")
		assert.Equal(t, KindUpstream, KindOf(err))
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	})
}
