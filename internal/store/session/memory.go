package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vogler75/monstermq/internal/model"
)

// MemoryStore is an in-memory Store, used for embedded deployments and
// tests. Grounded on the teacher's atomic.Value/copy-on-write session
// map in internal/broker/broker.go, simplified to a plain mutex since
// this store is not on the hot per-packet path the way the live
// session table is (persistence only happens at checkpoints).
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	subs     map[string][]model.Subscription
	queues   map[string][]*model.QueuedMessage
	seq      map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		subs:     make(map[string][]model.Subscription),
		queues:   make(map[string][]*model.QueuedMessage),
		seq:      make(map[string]uint64),
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ClientID] = &cp
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context, clientID string) (*model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, clientID)
	delete(m.subs, clientID)
	delete(m.queues, clientID)
	delete(m.seq, clientID)
	return nil
}

func (m *MemoryStore) ExpiredSessions(_ context.Context) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*model.Session
	for _, s := range m.sessions {
		if s.Expired(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveSubscriptions(_ context.Context, clientID string, subs []model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[clientID] = append([]model.Subscription(nil), subs...)
	return nil
}

func (m *MemoryStore) LoadSubscriptions(_ context.Context, clientID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs[clientID]...), nil
}

func (m *MemoryStore) Enqueue(_ context.Context, clientID string, msg *model.BrokerMessage, expiryInterval int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[clientID]++
	m.queues[clientID] = append(m.queues[clientID], &model.QueuedMessage{
		ClientID:       clientID,
		Sequence:       m.seq[clientID],
		Message:        msg.Clone(),
		CreatedAt:      time.Now(),
		ExpiryInterval: expiryInterval,
	})
	return nil
}

func (m *MemoryStore) Dequeue(_ context.Context, clientID string, limit int) ([]*model.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[clientID]
	now := time.Now()
	kept := queue[:0:0]
	var out []*model.QueuedMessage
	for _, q := range queue {
		if q.Expired(now) {
			continue
		}
		kept = append(kept, q)
		if len(out) < limit {
			out = append(out, q)
		}
	}
	m.queues[clientID] = kept
	return out, nil
}

func (m *MemoryStore) Ack(_ context.Context, clientID string, sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queues[clientID]
	idx := sort.Search(len(queue), func(i int) bool { return queue[i].Sequence >= sequence })
	if idx < len(queue) && queue[idx].Sequence == sequence {
		m.queues[clientID] = append(queue[:idx], queue[idx+1:]...)
	}
	return nil
}

func (m *MemoryStore) QueueDepth(_ context.Context, clientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[clientID]), nil
}
