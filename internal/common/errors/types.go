// Package errors provides the structured error type shared by the
// authentication and authorization engine. Every failure that can cross a
// package boundary is an *AuthError carrying a kind discriminant and the
// HTTP status code the handler layer should answer with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of an authentication or authorization failure.
type Kind string

const (
	// KindInvalidCredentials means the login input was structurally incomplete
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindUnauthorized means the identity provider rejected the credentials or token
	KindUnauthorized Kind = "unauthorized"
	// KindNotTeamMember means the user is not a member of the configured team
	KindNotTeamMember Kind = "not_team_member"
	// KindTeamMismatch means the package repository is not under the configured team
	KindTeamMismatch Kind = "team_mismatch"
	// KindInvalidRepoURL means the manifest repository field could not be parsed
	KindInvalidRepoURL Kind = "invalid_repository_url"
	// KindSessionExpired means the refresh attempt is exhausted and a new login is required
	KindSessionExpired Kind = "session_expired"
	// KindSessionPersistence means authentication succeeded but the session record could not be written
	KindSessionPersistence Kind = "session_persistence"
	// KindUnsupportedMethod means the request used an HTTP verb with no scope mapping
	KindUnsupportedMethod Kind = "unsupported_method"
	// KindNotFound means no bearer token was present on the request
	KindNotFound Kind = "not_found"
	// KindUpstream means the identity provider, front door, or cache store failed
	KindUpstream Kind = "upstream_unavailable"
)

// AuthError is a structured error with a kind discriminant and HTTP status code
type AuthError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// InvalidCredentials creates an error for structurally incomplete login input
func InvalidCredentials(msg string) *AuthError {
	return &AuthError{
		Kind:       KindInvalidCredentials,
		StatusCode: http.StatusBadRequest,
		Message:    msg,
	}
}

// Unauthorized creates an error for requests the identity provider rejected
func Unauthorized(msg string) *AuthError {
	return &AuthError{
		Kind:       KindUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Message:    msg,
	}
}

// NotTeamMember creates an error for users outside the restricting team
func NotTeamMember(team string) *AuthError {
	return &AuthError{
		Kind:       KindNotTeamMember,
		StatusCode: http.StatusUnauthorized,
		Message:    fmt.Sprintf("not a member of team %s", team),
	}
}

// TeamMismatch creates an error for repositories outside the restricting team
func TeamMismatch(team, repo string) *AuthError {
	return &AuthError{
		Kind:       KindTeamMismatch,
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf("repo %s is not under team %s", repo, team),
	}
}

// InvalidRepoURL creates an error for unparsable repository URLs
func InvalidRepoURL(url string) *AuthError {
	return &AuthError{
		Kind:       KindInvalidRepoURL,
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf("does not appear to be a valid git url: %s", url),
	}
}

// SessionExpired creates a terminal error requiring a fresh login
func SessionExpired(msg string) *AuthError {
	return &AuthError{
		Kind:       KindSessionExpired,
		StatusCode: http.StatusUnauthorized,
		Message:    msg,
	}
}

// SessionPersistence creates an error for session writes that must not be lost
func SessionPersistence(msg string, cause error) *AuthError {
	return &AuthError{
		Kind:       KindSessionPersistence,
		StatusCode: http.StatusInternalServerError,
		Message:    msg,
		Cause:      cause,
	}
}

// UnsupportedMethod creates an error for HTTP verbs with no scope mapping
func UnsupportedMethod(method string) *AuthError {
	return &AuthError{
		Kind:       KindUnsupportedMethod,
		StatusCode: http.StatusMethodNotAllowed,
		Message:    fmt.Sprintf("unsupported method: %s", method),
	}
}

// NotFound creates an error for requests carrying no bearer token
func NotFound(msg string) *AuthError {
	return &AuthError{
		Kind:       KindNotFound,
		StatusCode: http.StatusNotFound,
		Message:    msg,
	}
}

// Upstream creates an error for identity provider, front door, or cache failures
func Upstream(msg string, cause error) *AuthError {
	return &AuthError{
		Kind:       KindUpstream,
		StatusCode: http.StatusInternalServerError,
		Message:    msg,
		Cause:      cause,
	}
}

// ForStatus maps an upstream HTTP status code onto the taxonomy. 401 becomes
// KindUnauthorized so callers can detect the refresh trigger; anything else
// keeps the upstream code but is classified as an upstream failure.
func ForStatus(statusCode int, msg string, cause error) *AuthError {
	if statusCode == http.StatusUnauthorized {
		return &AuthError{
			Kind:       KindUnauthorized,
			StatusCode: http.StatusUnauthorized,
			Message:    msg,
			Cause:      cause,
		}
	}
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return &AuthError{
		Kind:       KindUpstream,
		StatusCode: statusCode,
		Message:    msg,
		Cause:      cause,
	}
}

// KindOf returns the kind of an error, or KindUpstream for unclassified errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return KindUpstream
	}
	return authErr.Kind
}

// IsKind checks whether an error carries the given kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.Kind == kind
}

// StatusOf returns the HTTP status code an error maps to, defaulting to 500
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return http.StatusInternalServerError
	}
	return authErr.StatusCode
}
