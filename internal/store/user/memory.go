package user

import (
	"context"
	"sync"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/pkg/hash"
)

// MemoryStore is an in-memory Store for tests and embedded deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	rules    map[string][]model.AclRule
	hashCost int
}

func NewMemoryStore(hashCost int) *MemoryStore {
	if hashCost <= 0 {
		hashCost = hash.DefaultCost
	}
	return &MemoryStore{
		users:    make(map[string]*model.User),
		rules:    make(map[string][]model.AclRule),
		hashCost: hashCost,
	}
}

func (m *MemoryStore) FindUser(_ context.Context, username string) (*model.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, false, nil
	}
	cp := *u
	return &cp, true, nil
}

func (m *MemoryStore) ValidatePassword(_ context.Context, username, password string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok || !u.Enabled {
		return false, nil
	}
	return hash.VerifyPassword(u.PasswordHash, password), nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u *model.User, plaintextPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	if plaintextPassword != "" {
		h, err := hash.HashPassword(plaintextPassword, m.hashCost)
		if err != nil {
			return err
		}
		cp.PasswordHash = h
	}
	m.users[u.Username] = &cp
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
	delete(m.rules, username)
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *MemoryStore) ListAclRules(_ context.Context, username string) ([]model.AclRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AclRule(nil), m.rules[username]...), nil
}

func (m *MemoryStore) SaveAclRule(_ context.Context, rule model.AclRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.rules[rule.Username]
	for i, r := range rules {
		if r.FilterPattern == rule.FilterPattern {
			rules[i] = rule
			return nil
		}
	}
	m.rules[rule.Username] = append(rules, rule)
	return nil
}

func (m *MemoryStore) DeleteAclRule(_ context.Context, username, filterPattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := m.rules[username]
	for i, r := range rules {
		if r.FilterPattern == filterPattern {
			m.rules[username] = append(rules[:i], rules[i+1:]...)
			return nil
		}
	}
	return nil
}
