// Package authz decides whether a registry request may proceed. Decisions
// delegate to the source control host: the package's repository identifies
// the team and repo, and the caller's privilege on that repo decides access.
package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"registry-auth/internal/authn"
	"registry-auth/internal/bitbucket"
	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
	"registry-auth/internal/registry"
	"registry-auth/internal/session"
)

// Request is the wire-neutral description of a registry request under
// evaluation. It carries only the parts the decision needs.
type Request struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Headers Headers         `json:"headers"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Headers holds the request headers the authorizer inspects.
type Headers struct {
	Authorization string `json:"authorization"`
}

// Scopes a request can ask for.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// SessionStore is the session state the authorizer reads and rotates.
type SessionStore interface {
	GetUser(ctx context.Context, token string, resolveAlias bool) (*session.User, bool, error)
	SetUser(ctx context.Context, accessToken string, user session.User) error
	GetAlias(ctx context.Context, clientToken string) (string, bool, error)
	SetAlias(ctx context.Context, clientToken, serverToken string) error
	DelAlias(ctx context.Context, clientToken string) error
	GetRefreshToken(ctx context.Context, accessToken string) (string, bool, error)
	DelRefreshToken(ctx context.Context, accessToken string) error
}

// PrivilegeFetcher reads a user's privilege on a repository.
type PrivilegeFetcher interface {
	RepoPrivilegesForUser(ctx context.Context, accessToken, account, repo, username string) ([]bitbucket.Privilege, error)
}

// Reauthenticator silently rotates an expired session.
type Reauthenticator interface {
	Refresh(ctx context.Context, user session.User, refreshToken string) (*authn.Auth, error)
}

// ManifestResolver maps a registry request path to the package's repository.
type ManifestResolver interface {
	ResolveRepository(ctx context.Context, pkgPath string, untrusted []byte) (*registry.Repository, error)
}

// Authorizer evaluates registry requests against repository privileges.
type Authorizer struct {
	sessions   SessionStore
	privileges PrivilegeFetcher
	reauth     Reauthenticator
	resolver   ManifestResolver
	team       string
	log        logging.Logger
}

// New creates an authorizer. team, when non-empty, rejects packages whose
// repository lives under any other team.
func New(sessions SessionStore, privileges PrivilegeFetcher, reauth Reauthenticator, resolver ManifestResolver, team string) *Authorizer {
	return &Authorizer{
		sessions:   sessions,
		privileges: privileges,
		reauth:     reauth,
		resolver:   resolver,
		team:       team,
		log:        logging.GetGlobalLogger().WithFields(logging.String("component", "authz")),
	}
}

// Authorize decides whether the request may proceed. A false result with a
// nil error is a clean denial; errors describe requests that could not be
// evaluated at all.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (bool, error) {
	clientToken := bearerToken(req.Headers.Authorization)
	if clientToken == "" {
		return false, apperrors.NotFound("no auth token found")
	}

	scope, err := scopeForMethod(req.Method)
	if err != nil {
		return false, err
	}

	repo, err := a.resolver.ResolveRepository(ctx, req.Path, req.Body)
	if err != nil {
		return false, err
	}
	target, err := registry.SplitTeamRepo(registry.NormalizeGitURL(repo.URL))
	if err != nil {
		return false, err
	}
	if a.team != "" && target.Team != a.team {
		return false, apperrors.TeamMismatch(a.team, target.Team)
	}

	user, found, err := a.sessions.GetUser(ctx, clientToken, true)
	if err != nil {
		return false, apperrors.Upstream("failed to read session user", err)
	}
	if !found {
		return false, apperrors.Unauthorized("please log in again")
	}

	// the client keeps presenting its original token even after rotation;
	// the alias points it at the token the provider currently honors
	serverToken := clientToken
	if alias, ok, err := a.sessions.GetAlias(ctx, clientToken); err != nil {
		a.log.Warn("ignoring alias lookup failure", logging.Err(err))
	} else if ok {
		serverToken = alias
	}

	privs, err := a.privileges.RepoPrivilegesForUser(ctx, serverToken, target.Team, target.Repo, user.Name)
	if err != nil {
		if apperrors.StatusOf(err) != http.StatusUnauthorized {
			return false, err
		}
		privs, err = a.rotate(ctx, clientToken, serverToken, *user, target)
		if err != nil {
			return false, err
		}
	}

	return allowed(privs, scope), nil
}

// Whoami resolves the bearer token of a live request to its session user.
func (a *Authorizer) Whoami(ctx context.Context, req Request) (*session.User, error) {
	token := bearerToken(req.Headers.Authorization)
	if token == "" {
		return nil, apperrors.NotFound("no auth token found")
	}
	user, found, err := a.sessions.GetUser(ctx, token, true)
	if err != nil {
		return nil, apperrors.Upstream("failed to read session user", err)
	}
	if !found {
		return nil, apperrors.Unauthorized("please log in again")
	}
	return user, nil
}

// rotate replaces a session the provider stopped honoring. The provider has
// already said 401 once, so any outcome other than a clean rotation ends the
// session and sends the user back to login.
func (a *Authorizer) rotate(ctx context.Context, clientToken, serverToken string, user session.User, target registry.TeamRepo) ([]bitbucket.Privilege, error) {
	refreshToken, found, err := a.sessions.GetRefreshToken(ctx, serverToken)
	if err != nil {
		return nil, apperrors.Upstream("failed to read refresh token", err)
	}
	if !found {
		if err := a.sessions.DelAlias(ctx, clientToken); err != nil {
			a.log.Warn("ignoring cache error while dropping alias", logging.Err(err))
		}
		return nil, apperrors.SessionExpired("please log in again")
	}

	auth, err := a.reauth.Refresh(ctx, user, refreshToken)
	if err != nil {
		a.log.Info("refresh rejected", logging.Err(err))
		a.cleanup(ctx, clientToken, serverToken)
		return nil, apperrors.SessionExpired("refresh token expired, please log in again")
	}

	// commit the rotation and retry the privilege fetch together; a partial
	// commit is unrecoverable mid-request, so any failure tears it all down
	var privs []bitbucket.Privilege
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sessions.DelRefreshToken(gctx, serverToken)
	})
	g.Go(func() error {
		if err := a.sessions.SetAlias(gctx, clientToken, auth.Token); err != nil {
			return err
		}
		return a.sessions.SetUser(gctx, auth.Token, auth.User)
	})
	g.Go(func() error {
		var err error
		privs, err = a.privileges.RepoPrivilegesForUser(gctx, auth.Token, target.Team, target.Repo, auth.User.Name)
		return err
	})
	if err := g.Wait(); err != nil {
		a.log.Warn("ignoring ambiguous error during session rotation", logging.Err(err))
		a.cleanup(ctx, clientToken, serverToken)
		return nil, apperrors.SessionExpired("please log in again")
	}
	return privs, nil
}

// cleanup best-effort removes session state that is about to be invalidated.
func (a *Authorizer) cleanup(ctx context.Context, clientToken, serverToken string) {
	if err := a.sessions.DelAlias(ctx, clientToken); err != nil {
		a.log.Warn("ignoring cache error while dropping alias", logging.Err(err))
	}
	if err := a.sessions.DelRefreshToken(ctx, serverToken); err != nil {
		a.log.Warn("ignoring cache error while dropping refresh token", logging.Err(err))
	}
}

// allowed evaluates the caller's privilege against the requested scope.
// admin and write imply read.
func allowed(privs []bitbucket.Privilege, scope string) bool {
	if len(privs) == 0 {
		return false
	}
	switch privs[0].Privilege {
	case "admin", ScopeWrite:
		return true
	default:
		return privs[0].Privilege == scope
	}
}

func scopeForMethod(method string) (string, error) {
	switch method {
	case http.MethodGet:
		return ScopeRead, nil
	case http.MethodPut, http.MethodPost, http.MethodDelete:
		return ScopeWrite, nil
	default:
		return "", apperrors.UnsupportedMethod(method)
	}
}

func bearerToken(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}
