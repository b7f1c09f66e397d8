package bitbucket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "registry-auth/internal/common/errors"
)

// TokenPair is the access/refresh token pair minted by a grant
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// OAuthClient exchanges credentials for tokens at the Bitbucket OAuth2
// token endpoint, authenticating with the configured consumer key/secret.
type OAuthClient struct {
	conf *oauth2.Config
	http *http.Client
}

// NewOAuthClient creates a token endpoint client
func NewOAuthClient(cfg Config) *OAuthClient {
	baseURL := cfg.OAuthBaseURL
	if baseURL == "" {
		baseURL = "https://bitbucket.org"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(baseURL, "/") + "/site/oauth2/access_token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http: &http.Client{Timeout: timeout},
	}
}

// PasswordGrant exchanges a username/password for a token pair
func (c *OAuthClient) PasswordGrant(ctx context.Context, username, password string) (*TokenPair, error) {
	tok, err := c.conf.PasswordCredentialsToken(c.withHTTPClient(ctx), username, password)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return &TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

// RefreshGrant mints a new token pair from a refresh token. An expired or
// revoked refresh token surfaces as an unauthorized error, which is the
// trigger for the session-expired path during authorization.
func (c *OAuthClient) RefreshGrant(ctx context.Context, refreshToken string) (*TokenPair, error) {
	src := c.conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenError(err)
	}
	pair := &TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if pair.RefreshToken == "" {
		// provider did not rotate the refresh token; keep using the old one
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// mapTokenError classifies token endpoint failures: a provider rejection is
// unauthorized, anything else is an upstream failure.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := strings.TrimSpace(re.ErrorDescription)
		if msg == "" {
			msg = "token request rejected"
		}
		statusCode := 0
		if re.Response != nil {
			statusCode = re.Response.StatusCode
		}
		if statusCode == http.StatusBadRequest || statusCode == http.StatusUnauthorized {
			return apperrors.Unauthorized(msg)
		}
		return apperrors.ForStatus(statusCode, msg, err)
	}
	return apperrors.Upstream("token request failed", err)
}
