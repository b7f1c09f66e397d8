// Package bitbucket provides the identity provider clients: the OAuth2 token
// endpoint client used to exchange credentials for tokens, and the resource
// API client used to read users, teams, and repository privileges.
package bitbucket

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"context"

	"github.com/sony/gobreaker"

	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
)

// Config holds connection settings for both Bitbucket clients
type Config struct {
	// APIBaseURL is the resource API base, e.g. https://api.bitbucket.org
	APIBaseURL string
	// OAuthBaseURL is the OAuth2 base, e.g. https://bitbucket.org
	OAuthBaseURL string
	// ClientID is the OAuth2 consumer key
	ClientID string
	// ClientSecret is the OAuth2 consumer secret
	ClientSecret string
	// Timeout bounds each outbound request (default 30s)
	Timeout time.Duration
}

// Account is a Bitbucket user or team account
type Account struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Privilege is one entry of a repository privilege listing.
// Privilege is one of "admin", "write", "read".
type Privilege struct {
	Privilege string `json:"privilege"`
	Repo      string `json:"repo,omitempty"`
}

type teamList struct {
	Values []Account `json:"values"`
}

// apiError is the error payload shape Bitbucket responds with
type apiError struct {
	ErrorDescription string `json:"error_description,omitempty"`
	Error            struct {
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// Client calls the Bitbucket resource API with bearer-token authentication.
// A circuit breaker fails calls fast while the provider is unreachable.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logging.Logger
}

// NewClient creates a resource API client
func NewClient(cfg Config) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.bitbucket.org"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bitbucket-api",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		log:     logging.GetGlobalLogger().WithFields(logging.String("component", "bitbucket")),
	}
}

// CurrentUser returns the account the access token belongs to
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*Account, error) {
	var account Account
	if err := c.getJSON(ctx, "/2.0/user", accessToken, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// TeamsByRole returns the teams the token's user has the given role in.
// Roles are admin, contributor, member.
func (c *Client) TeamsByRole(ctx context.Context, accessToken, role string) ([]Account, error) {
	var teams teamList
	if err := c.getJSON(ctx, "/2.0/teams?role="+url.QueryEscape(role), accessToken, &teams); err != nil {
		return nil, err
	}
	return teams.Values, nil
}

// RepoPrivilegesForUser returns the privileges username holds on account/repo.
// An empty result means no privilege.
func (c *Client) RepoPrivilegesForUser(ctx context.Context, accessToken, account, repo, username string) ([]Privilege, error) {
	endpoint := fmt.Sprintf("/1.0/privileges/%s/%s/%s",
		url.PathEscape(account), url.PathEscape(repo), url.PathEscape(username))

	var privileges []Privilege
	if err := c.getJSON(ctx, endpoint, accessToken, &privileges); err != nil {
		return nil, err
	}
	return privileges, nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
// Transport failures pass through the circuit breaker; HTTP error statuses
// are mapped onto the error taxonomy without tripping it.
func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return apperrors.Upstream("failed to build bitbucket request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.http.Do(req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.Upstream("bitbucket api circuit open", err)
		}
		return apperrors.Upstream(fmt.Sprintf("bitbucket api request failed for %s", endpoint), err)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.ForStatus(resp.StatusCode, errorMessage(resp, endpoint), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Upstream(fmt.Sprintf("undecodable bitbucket response for %s", endpoint), err)
	}
	return nil
}

// errorMessage extracts the provider's error description when one is present
func errorMessage(resp *http.Response, endpoint string) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload apiError
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrorDescription != "" {
			return payload.ErrorDescription
		}
		if payload.Error.Message != "" {
			return payload.Error.Message
		}
	}
	return fmt.Sprintf("bitbucket api returned %d for %s", resp.StatusCode, endpoint)
}
