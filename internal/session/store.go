// Package session owns the persisted keys of the token lifecycle: the
// refresh-token record for each access token, the cached user identity, and
// the alias from a caller-presented token to the server-side token that
// replaced it after a silent rotation. All keys live in the shared cache
// store; nothing outside this package touches the cache directly.
package session

import (
	"context"
	"encoding/json"
	"time"

	"registry-auth/internal/common/logging"
)

const (
	refreshKeyPrefix = "refresh-"
	userKeyPrefix    = "user-"
	aliasKeyPrefix   = "alias-"
)

// User is the cached identity resolved for an access token
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Cache is the string-keyed store the session layer persists into.
// Implemented by the redis client; every call is independently fallible.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Store reads and writes session records in the cache store
type Store struct {
	cache Cache
	ttl   time.Duration
	log   logging.Logger
}

// New creates a session store. A zero ttl stores keys without expiry.
func New(cache Cache, ttl time.Duration) *Store {
	return &Store{
		cache: cache,
		ttl:   ttl,
		log:   logging.GetGlobalLogger().WithFields(logging.String("component", "session")),
	}
}

func refreshKey(accessToken string) string {
	return refreshKeyPrefix + accessToken
}

func userKey(accessToken string) string {
	return userKeyPrefix + accessToken
}

func aliasKey(clientToken string) string {
	return aliasKeyPrefix + clientToken
}

// SetRefreshToken stores the refresh token issued alongside accessToken
func (s *Store) SetRefreshToken(ctx context.Context, accessToken, refreshToken string) error {
	return s.cache.Set(ctx, refreshKey(accessToken), refreshToken, s.ttl)
}

// GetRefreshToken returns the refresh token stored for accessToken
func (s *Store) GetRefreshToken(ctx context.Context, accessToken string) (string, bool, error) {
	return s.cache.Get(ctx, refreshKey(accessToken))
}

// DelRefreshToken removes the refresh token stored for accessToken
func (s *Store) DelRefreshToken(ctx context.Context, accessToken string) error {
	return s.cache.Del(ctx, refreshKey(accessToken))
}

// SetUser stores the cached identity for accessToken
func (s *Store) SetUser(ctx context.Context, accessToken string, user User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, userKey(accessToken), string(raw), s.ttl)
}

// GetUser returns the cached identity for token. With resolveAlias set, the
// alias for token is consulted first and, when present, the user stored under
// the alias target is returned instead. An alias lookup failure falls back to
// the original token rather than failing the call; a stored value that does
// not decode is treated as absent.
func (s *Store) GetUser(ctx context.Context, token string, resolveAlias bool) (*User, bool, error) {
	lookup := token
	if resolveAlias {
		serverToken, found, err := s.GetAlias(ctx, token)
		if err != nil {
			s.log.Warn("ignoring cache error on alias lookup", logging.Err(err))
		} else if found {
			lookup = serverToken
		}
	}

	raw, found, err := s.cache.Get(ctx, userKey(lookup))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.log.Warn("discarding undecodable cached user", logging.Err(err))
		return nil, false, nil
	}
	return &user, true, nil
}

// DelUser removes the cached identity for accessToken
func (s *Store) DelUser(ctx context.Context, accessToken string) error {
	return s.cache.Del(ctx, userKey(accessToken))
}

// SetAlias points clientToken at the server token now used upstream for it.
// A later rotation overwrites the alias; aliases are never chained.
func (s *Store) SetAlias(ctx context.Context, clientToken, serverToken string) error {
	return s.cache.Set(ctx, aliasKey(clientToken), serverToken, s.ttl)
}

// GetAlias returns the server token aliased to clientToken
func (s *Store) GetAlias(ctx context.Context, clientToken string) (string, bool, error) {
	return s.cache.Get(ctx, aliasKey(clientToken))
}

// DelAlias removes the alias for clientToken
func (s *Store) DelAlias(ctx context.Context, clientToken string) error {
	return s.cache.Del(ctx, aliasKey(clientToken))
}
