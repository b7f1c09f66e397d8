// Package handlers exposes the auth engine over HTTP for the registry.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"registry-auth/internal/authn"
	"registry-auth/internal/authz"
	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
	"registry-auth/internal/session"
)

// Authenticator is the login side of the engine.
type Authenticator interface {
	Authenticate(ctx context.Context, creds authn.Credentials) (*authn.Auth, error)
	Unauthenticate(ctx context.Context, accessToken string)
}

// Authorizer is the decision side of the engine.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) (bool, error)
	Whoami(ctx context.Context, req authz.Request) (*session.User, error)
}

// UserCache stores the session user for a freshly minted token.
type UserCache interface {
	SetUser(ctx context.Context, accessToken string, user session.User) error
}

// Pinger reports cache reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	authn Authenticator
	authz Authorizer
	users UserCache
	cache Pinger
	log   logging.Logger
}

func New(authenticator Authenticator, authorizer Authorizer, users UserCache, cache Pinger) *Handlers {
	return &Handlers{
		authn: authenticator,
		authz: authorizer,
		users: users,
		cache: cache,
		log:   logging.GetGlobalLogger().WithFields(logging.String("component", "handlers")),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("failed to encode response", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.StatusOf(err), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
