// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"cmp"
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider = (*MockAuthProvider)(nil)
	_ ports.SessionStore = (*MemorySessionStore)(nil)
)

// MockAuthProvider simulates an IdP. The auth URL echoes state and nonce as
// query parameters, and Exchange returns DefaultUser unless ExchangeFunc is set.
type MockAuthProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (string, error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	AuthURL     string
	DefaultUser domainauth.Identity

	mu            sync.Mutex
	beginCalls    []ports.BeginInput
	exchangeCalls []ports.ExchangeInput
}

// NewMockAuthProvider creates a MockAuthProvider with a staff identity.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{
		AuthURL: "https://mock-idp/authorize",
		DefaultUser: domainauth.Identity{
			UserID:      "mock-user-1",
			Email:       "mock.user@example.org",
			DisplayName: "Mock User",
			Groups:      []domainauth.Group{{ID: "g-staff", Name: "All_Staff"}},
			Attributes:  map[string]any{"department": "Technology"},
		},
	}
}

// Begin returns AuthURL with state and nonce appended.
func (m *MockAuthProvider) Begin(ctx context.Context, in ports.BeginInput) (string, error) {
	m.mu.Lock()
	m.beginCalls = append(m.beginCalls, in)
	m.mu.Unlock()
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	base := cmp.Or(m.AuthURL, "https://mock-idp/authorize")
	q := url.Values{"state": {in.State}, "nonce": {in.Nonce}}
	return base + "?" + q.Encode(), nil
}

// Exchange returns the configured identity.
func (m *MockAuthProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	m.mu.Lock()
	m.exchangeCalls = append(m.exchangeCalls, in)
	m.mu.Unlock()
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	if m.DefaultUser.UserID == "" {
		return domainauth.Identity{}, errors.New("mock provider has no default user")
	}
	return m.DefaultUser, nil
}

// BeginCalls returns the inputs Begin was called with.
func (m *MockAuthProvider) BeginCalls() []ports.BeginInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.beginCalls)
}

// ExchangeCalls returns the inputs Exchange was called with.
func (m *MockAuthProvider) ExchangeCalls() []ports.ExchangeInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.exchangeCalls)
}

// ErrStoreDown is the default error returned while a MemorySessionStore is failing.
var ErrStoreDown = errors.New("session store unavailable")

// MemorySessionStore is an in-memory ports.SessionStore for unit tests.
// Set Now to control expiry and SetFailing to simulate an outage.
type MemorySessionStore struct {
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]domainauth.Session
	failWith error
}

// NewMemorySessionStore creates an empty store using the system clock.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		Now:      time.Now,
		sessions: make(map[string]domainauth.Session),
	}
}

// SetFailing makes every operation return err; nil restores normal behavior.
func (m *MemorySessionStore) SetFailing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Len returns the number of stored records including expired ones.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemorySessionStore) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return domainauth.Session{}, m.failWith
	}
	sess, ok := m.sessions[id]
	if !ok || sess.ExpiredAt(m.now()) {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	sess, ok := m.sessions[id]
	if !ok {
		return domainauth.ErrSessionNotFound
	}
	if at.After(sess.LastActivity) {
		sess.LastActivity = at
		m.sessions[id] = sess
	}
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemorySessionStore) ListByUser(_ context.Context, userID string) ([]domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []domainauth.Session
	now := m.now()
	for _, s := range m.sessions {
		if s.UserID == userID && !s.ExpiredAt(now) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domainauth.Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemorySessionStore) List(_ context.Context, opts model.SessionListOptions) ([]domainauth.Session, error) {
	opts.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []domainauth.Session
	now := m.now()
	for _, s := range m.sessions {
		if s.ExpiredAt(now) || (opts.UserID != nil && s.UserID != *opts.UserID) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domainauth.Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if opts.Offset >= len(out) {
		return []domainauth.Session{}, nil
	}
	out = out[opts.Offset:]
	return out[:min(len(out), opts.Limit)], nil
}

func (m *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var n int64
	for id, s := range m.sessions {
		if s.ExpiredAt(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
