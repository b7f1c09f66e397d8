// Package testutil provides in-memory fakes for the session store, the
// identity provider clients, and the front door resolver, with per-method
// error injection for failure-path tests.
package testutil

import (
	"context"
	"sync"

	"registry-auth/internal/bitbucket"
	"registry-auth/internal/registry"
	"registry-auth/internal/session"
)

// MockSessionStore is an in-memory session store
type MockSessionStore struct {
	mu            sync.RWMutex
	RefreshTokens map[string]string
	Users         map[string]session.User
	Aliases       map[string]string

	// ErrorOnMethod injects an error for the named method
	ErrorOnMethod map[string]error
	// Calls counts invocations per method
	Calls map[string]int
}

// NewMockSessionStore creates an empty mock session store
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		RefreshTokens: make(map[string]string),
		Users:         make(map[string]session.User),
		Aliases:       make(map[string]string),
		ErrorOnMethod: make(map[string]error),
		Calls:         make(map[string]int),
	}
}

func (m *MockSessionStore) enter(method string) error {
	m.Calls[method]++
	return m.ErrorOnMethod[method]
}

func (m *MockSessionStore) SetRefreshToken(_ context.Context, accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetRefreshToken"); err != nil {
		return err
	}
	m.RefreshTokens[accessToken] = refreshToken
	return nil
}

func (m *MockSessionStore) GetRefreshToken(_ context.Context, accessToken string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRefreshToken"); err != nil {
		return "", false, err
	}
	rt, ok := m.RefreshTokens[accessToken]
	return rt, ok, nil
}

func (m *MockSessionStore) DelRefreshToken(_ context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DelRefreshToken"); err != nil {
		return err
	}
	delete(m.RefreshTokens, accessToken)
	return nil
}

func (m *MockSessionStore) SetUser(_ context.Context, accessToken string, user session.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetUser"); err != nil {
		return err
	}
	m.Users[accessToken] = user
	return nil
}

func (m *MockSessionStore) GetUser(_ context.Context, token string, resolveAlias bool) (*session.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUser"); err != nil {
		return nil, false, err
	}
	lookup := token
	if resolveAlias {
		if serverToken, ok := m.Aliases[token]; ok {
			lookup = serverToken
		}
	}
	user, ok := m.Users[lookup]
	if !ok {
		return nil, false, nil
	}
	return &user, true, nil
}

func (m *MockSessionStore) DelUser(_ context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DelUser"); err != nil {
		return err
	}
	delete(m.Users, accessToken)
	return nil
}

func (m *MockSessionStore) SetAlias(_ context.Context, clientToken, serverToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetAlias"); err != nil {
		return err
	}
	m.Aliases[clientToken] = serverToken
	return nil
}

func (m *MockSessionStore) GetAlias(_ context.Context, clientToken string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetAlias"); err != nil {
		return "", false, err
	}
	serverToken, ok := m.Aliases[clientToken]
	return serverToken, ok, nil
}

func (m *MockSessionStore) DelAlias(_ context.Context, clientToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DelAlias"); err != nil {
		return err
	}
	delete(m.Aliases, clientToken)
	return nil
}

// MockBitbucket fakes both the OAuth2 and resource API clients
type MockBitbucket struct {
	mu sync.Mutex

	PasswordPair *bitbucket.TokenPair
	RefreshPair  *bitbucket.TokenPair
	Account      *bitbucket.Account
	Teams        []bitbucket.Account
	Privileges   []bitbucket.Privilege

	// PrivilegeErrs is consumed one entry per RepoPrivilegesForUser call
	// before Privileges is returned, to script 401-then-success sequences
	PrivilegeErrs []error

	// ErrorOnMethod injects an error for the named method
	ErrorOnMethod map[string]error
	// Calls counts invocations per method
	Calls map[string]int
	// PrivilegeTokens records the access token of each privilege fetch
	PrivilegeTokens []string
	// RefreshedWith records refresh tokens passed to RefreshGrant
	RefreshedWith []string
}

// NewMockBitbucket creates a mock identity provider
func NewMockBitbucket() *MockBitbucket {
	return &MockBitbucket{
		ErrorOnMethod: make(map[string]error),
		Calls:         make(map[string]int),
	}
}

// NetworkCalls returns the total number of identity provider invocations
func (m *MockBitbucket) NetworkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.Calls {
		total += n
	}
	return total
}

func (m *MockBitbucket) PasswordGrant(_ context.Context, username, password string) (*bitbucket.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["PasswordGrant"]++
	if err := m.ErrorOnMethod["PasswordGrant"]; err != nil {
		return nil, err
	}
	return m.PasswordPair, nil
}

func (m *MockBitbucket) RefreshGrant(_ context.Context, refreshToken string) (*bitbucket.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RefreshGrant"]++
	m.RefreshedWith = append(m.RefreshedWith, refreshToken)
	if err := m.ErrorOnMethod["RefreshGrant"]; err != nil {
		return nil, err
	}
	return m.RefreshPair, nil
}

func (m *MockBitbucket) CurrentUser(_ context.Context, accessToken string) (*bitbucket.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["CurrentUser"]++
	if err := m.ErrorOnMethod["CurrentUser"]; err != nil {
		return nil, err
	}
	return m.Account, nil
}

func (m *MockBitbucket) TeamsByRole(_ context.Context, accessToken, role string) ([]bitbucket.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["TeamsByRole"]++
	if err := m.ErrorOnMethod["TeamsByRole"]; err != nil {
		return nil, err
	}
	return m.Teams, nil
}

func (m *MockBitbucket) RepoPrivilegesForUser(_ context.Context, accessToken, account, repo, username string) ([]bitbucket.Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RepoPrivilegesForUser"]++
	m.PrivilegeTokens = append(m.PrivilegeTokens, accessToken)
	if len(m.PrivilegeErrs) > 0 {
		err := m.PrivilegeErrs[0]
		m.PrivilegeErrs = m.PrivilegeErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if err := m.ErrorOnMethod["RepoPrivilegesForUser"]; err != nil {
		return nil, err
	}
	return m.Privileges, nil
}

// MockResolver fakes the front door repository resolver
type MockResolver struct {
	Repo  *registry.Repository
	Err   error
	Calls int
}

func (m *MockResolver) ResolveRepository(_ context.Context, pkgPath string, untrusted []byte) (*registry.Repository, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Repo, nil
}
