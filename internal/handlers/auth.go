package handlers

import (
	"net/http"
	"strings"

	"registry-auth/internal/authn"
	"registry-auth/internal/authz"
	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
	"registry-auth/internal/session"
)

type loginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

// HandleLogin exchanges credentials for a registry token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds authn.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		h.writeError(w, apperrors.InvalidCredentials("request body is not valid json"))
		return
	}

	auth, err := h.authn.Authenticate(r.Context(), creds)
	if err != nil {
		h.log.Info("login rejected", logging.Err(err))
		h.writeError(w, err)
		return
	}

	// the authorizer resolves tokens to users from the cache, so a token
	// without its user record would be unusable
	if err := h.users.SetUser(r.Context(), auth.Token, auth.User); err != nil {
		h.writeError(w, apperrors.SessionPersistence("failed to store session user", err))
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{Token: auth.Token, User: auth.User})
}

// HandleLogout drops the session behind the presented token. Always 200.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		h.authn.Unauthenticate(r.Context(), token)
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleWhoami resolves the caller's token to a username.
func (h *Handlers) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	user, err := h.authz.Whoami(r.Context(), descriptorFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"username": user.Name})
}

// HandleAuthorize evaluates a registry request descriptor.
func (h *Handlers) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authz.Request
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, apperrors.InvalidCredentials("request body is not a valid descriptor"))
		return
	}

	allowed, err := h.authz.Authorize(r.Context(), req)
	if err != nil {
		h.log.Info("authorization failed",
			logging.String("method", req.Method),
			logging.String("path", req.Path),
			logging.Err(err))
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// HandleHealth reports cache reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Ping(r.Context()); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// descriptorFromRequest reshapes a live HTTP request into the descriptor form
// the engine evaluates.
func descriptorFromRequest(r *http.Request) authz.Request {
	return authz.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: authz.Headers{Authorization: r.Header.Get("Authorization")},
	}
}

func bearerToken(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}
