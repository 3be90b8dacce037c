package cabinet

import (
	"context"
	"sync"
)

// TokenStore persists the session credentials. Missing values are reported as
// empty strings with a nil error. ClearTokens drops the access and refresh
// tokens but keeps identity data, which belongs to the platform rather than
// the session.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
	RefreshToken(ctx context.Context) (string, error)
	SetRefreshToken(ctx context.Context, token string) error
	IdentityData(ctx context.Context) (string, error)
	SetIdentityData(ctx context.Context, data string) error
	ClearTokens(ctx context.Context) error
}

// Session is a snapshot of everything a TokenStore holds.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IdentityData string `json:"identity_data,omitempty"`
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	session Session
}

// NewMemoryStore returns a store seeded with the given session.
func NewMemoryStore(seed Session) *MemoryStore {
	return &MemoryStore{session: seed}
}

func (m *MemoryStore) AccessToken(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.AccessToken, nil
}

func (m *MemoryStore) SetAccessToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.AccessToken = token
	return nil
}

func (m *MemoryStore) RefreshToken(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.RefreshToken, nil
}

func (m *MemoryStore) SetRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.RefreshToken = token
	return nil
}

func (m *MemoryStore) IdentityData(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IdentityData, nil
}

func (m *MemoryStore) SetIdentityData(_ context.Context, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.IdentityData = data
	return nil
}

func (m *MemoryStore) ClearTokens(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.AccessToken = ""
	m.session.RefreshToken = ""
	return nil
}

// Snapshot returns a copy of the stored session.
func (m *MemoryStore) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// SeedSession writes every non-empty field of s into store.
func SeedSession(ctx context.Context, store TokenStore, s Session) error {
	if s.AccessToken != "" {
		if err := store.SetAccessToken(ctx, s.AccessToken); err != nil {
			return err
		}
	}
	if s.RefreshToken != "" {
		if err := store.SetRefreshToken(ctx, s.RefreshToken); err != nil {
			return err
		}
	}
	if s.IdentityData != "" {
		if err := store.SetIdentityData(ctx, s.IdentityData); err != nil {
			return err
		}
	}
	return nil
}
