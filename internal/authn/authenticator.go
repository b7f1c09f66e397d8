// Package authn turns end-user credentials, or a previously stored refresh
// token, into a fresh access token: it runs the OAuth2 grant, resolves the
// canonical username, enforces the optional team restriction, and persists
// the refresh token so the authorizer can later rotate the session silently.
package authn

import (
	"context"
	"strings"

	"registry-auth/internal/bitbucket"
	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
	"registry-auth/internal/session"
)

// memberRole is the team role checked for the restricting team
const memberRole = "member"

// Credentials is the login input. Password is required for a fresh login;
// RefreshToken, when set, takes precedence and runs a refresh grant instead.
type Credentials struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Auth is a successful authentication result
type Auth struct {
	Token        string
	RefreshToken string
	User         session.User
}

// OAuthClient mints token pairs at the identity provider
type OAuthClient interface {
	PasswordGrant(ctx context.Context, username, password string) (*bitbucket.TokenPair, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*bitbucket.TokenPair, error)
}

// IdentityClient reads user resources from the identity provider
type IdentityClient interface {
	CurrentUser(ctx context.Context, accessToken string) (*bitbucket.Account, error)
	TeamsByRole(ctx context.Context, accessToken, role string) ([]bitbucket.Account, error)
}

// SessionStore persists refresh tokens keyed by the access token they were
// issued with
type SessionStore interface {
	SetRefreshToken(ctx context.Context, accessToken, refreshToken string) error
	DelRefreshToken(ctx context.Context, accessToken string) error
}

// Authenticator exchanges credentials for tokens via the identity provider
type Authenticator struct {
	oauth    OAuthClient
	api      IdentityClient
	sessions SessionStore
	team     string
	log      logging.Logger
}

// New creates an authenticator. team, when non-empty, restricts logins to
// members of that team.
func New(oauth OAuthClient, api IdentityClient, sessions SessionStore, team string) *Authenticator {
	return &Authenticator{
		oauth:    oauth,
		api:      api,
		sessions: sessions,
		team:     team,
		log:      logging.GetGlobalLogger().WithFields(logging.String("component", "authn")),
	}
}

// Authenticate logs a user in. Structurally incomplete credentials fail
// before any network call is made.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Auth, error) {
	if creds.Email == "" {
		return nil, apperrors.InvalidCredentials("email is required")
	}
	if creds.Password == "" {
		return nil, apperrors.InvalidCredentials("password is required")
	}
	return a.authenticate(ctx, creds)
}

// Refresh re-authenticates a known user with a stored refresh token. This is
// the authorizer's entry point for silent token rotation.
func (a *Authenticator) Refresh(ctx context.Context, user session.User, refreshToken string) (*Auth, error) {
	return a.authenticate(ctx, Credentials{
		Name:         user.Name,
		Email:        user.Email,
		RefreshToken: refreshToken,
	})
}

func (a *Authenticator) authenticate(ctx context.Context, creds Credentials) (*Auth, error) {
	var pair *bitbucket.TokenPair
	var err error
	if creds.RefreshToken != "" {
		pair, err = a.oauth.RefreshGrant(ctx, creds.RefreshToken)
	} else {
		pair, err = a.oauth.PasswordGrant(ctx, creds.Email, creds.Password)
	}
	if err != nil {
		return nil, err
	}

	auth := &Auth{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User: session.User{
			Name:  provisionalName(creds),
			Email: creds.Email,
		},
	}

	// the provisional name is only a fallback; the provider's record wins
	account, err := a.api.CurrentUser(ctx, auth.Token)
	if err != nil {
		return nil, err
	}
	if account.Username != "" {
		auth.User.Name = account.Username
	}

	if a.team != "" {
		if err := a.checkTeamMembership(ctx, auth.Token); err != nil {
			return nil, err
		}
	}

	// the refresh token is the authoritative record for later silent
	// rotation, so losing it has to surface even though login succeeded
	if err := a.sessions.SetRefreshToken(ctx, auth.Token, auth.RefreshToken); err != nil {
		return nil, apperrors.SessionPersistence("failed to store refresh token", err)
	}

	a.log.Info("authenticated",
		logging.String("user", auth.User.Name),
		logging.Bool("via_refresh", creds.RefreshToken != ""))
	return auth, nil
}

// Unauthenticate drops the stored refresh token for an access token. Logout
// must never fail visibly, so cache errors are logged and swallowed.
func (a *Authenticator) Unauthenticate(ctx context.Context, accessToken string) {
	if err := a.sessions.DelRefreshToken(ctx, accessToken); err != nil {
		a.log.Warn("ignoring cache error while dropping refresh token", logging.Err(err))
	}
}

func (a *Authenticator) checkTeamMembership(ctx context.Context, accessToken string) error {
	teams, err := a.api.TeamsByRole(ctx, accessToken, memberRole)
	if err != nil {
		return err
	}
	for _, team := range teams {
		if team.Username == a.team {
			return nil
		}
	}
	return apperrors.NotTeamMember(a.team)
}

// provisionalName derives a username from the email local part when the
// caller did not supply one
func provisionalName(creds Credentials) string {
	if creds.Name != "" {
		return creds.Name
	}
	if at := strings.Index(creds.Email, "@"); at > 0 {
		return creds.Email[:at]
	}
	return creds.Email
}
