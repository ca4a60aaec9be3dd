package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dwizi/slack-bridge/internal/store"
)

type Store interface {
	GetSession(ctx context.Context, identity string) (store.SessionRecord, error)
	EnsureSession(ctx context.Context, identity, newToken string) (store.SessionRecord, bool, error)
	SetSession(ctx context.Context, identity, token string) (store.SessionRecord, error)
	DeleteSession(ctx context.Context, identity string) error
	DeleteSessionIfToken(ctx context.Context, identity, token string) (bool, error)
}

// Binding is the token an identity is bound to. Fresh is true when the token
// was generated by this call and the agent has not seen it yet.
type Binding struct {
	Token string
	Fresh bool
}

type Manager struct {
	store    Store
	newToken func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(sessionStore Store) *Manager {
	return &Manager{
		store:    sessionStore,
		newToken: uuid.NewString,
		locks:    map[string]*sync.Mutex{},
	}
}

func (m *Manager) Ensure(ctx context.Context, identity string) (Binding, error) {
	record, created, err := m.store.EnsureSession(ctx, identity, m.newToken())
	if err != nil {
		return Binding{}, err
	}
	return Binding{Token: record.Token, Fresh: created}, nil
}

func (m *Manager) Reset(ctx context.Context, identity string) error {
	return m.store.DeleteSession(ctx, identity)
}

func (m *Manager) Rebind(ctx context.Context, identity, token string) error {
	_, err := m.store.SetSession(ctx, identity, token)
	return err
}

func (m *Manager) Current(ctx context.Context, identity string) (string, bool, error) {
	record, err := m.store.GetSession(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return record.Token, true, nil
}

// InvalidateOnAgentError unbinds identity when errorText looks like a failure
// of the agent's session itself. It reports whether the binding was dropped.
func (m *Manager) InvalidateOnAgentError(ctx context.Context, identity, errorText string) (bool, error) {
	if !IsSessionFailureText(errorText) {
		return false, nil
	}
	if err := m.store.DeleteSession(ctx, identity); err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateTokenOnAgentError is InvalidateOnAgentError restricted to the
// token the failed invocation used. A binding switched in the meantime is kept.
func (m *Manager) InvalidateTokenOnAgentError(ctx context.Context, identity, token, errorText string) (bool, error) {
	if !IsSessionFailureText(errorText) {
		return false, nil
	}
	return m.InvalidateToken(ctx, identity, token)
}

// InvalidateToken drops the binding only while it still names token. Callers
// that already classified the failure use it directly.
func (m *Manager) InvalidateToken(ctx context.Context, identity, token string) (bool, error) {
	return m.store.DeleteSessionIfToken(ctx, identity, token)
}

// Lock serializes work for one identity. The returned func releases it.
func (m *Manager) Lock(identity string) func() {
	lock := m.identityLock(identity)
	lock.Lock()
	return lock.Unlock
}

func (m *Manager) identityLock(identity string) *sync.Mutex {
	key := strings.TrimSpace(identity)
	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[key] = lock
	return lock
}

// IsSessionFailureText reports whether agent diagnostic output points at the
// session itself, e.g. an unknown or unresumable session id.
func IsSessionFailureText(text string) bool {
	lowered := strings.ToLower(text)
	return strings.Contains(lowered, "session") || strings.Contains(lowered, "resume")
}
