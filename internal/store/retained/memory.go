package retained

import (
	"context"
	"sync"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/topicindex"
)

// MemoryStore is an in-memory Store for embedded deployments and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*model.BrokerMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*model.BrokerMessage)}
}

func (m *MemoryStore) Set(_ context.Context, msg *model.BrokerMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[msg.Topic] = msg.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, topic)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, topic string) (*model.BrokerMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.byKey[topic]
	if !ok {
		return nil, false, nil
	}
	return msg.Clone(), true, nil
}

func (m *MemoryStore) Match(_ context.Context, filter string) ([]*model.BrokerMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.BrokerMessage
	for topic, msg := range m.byKey {
		if topicindex.TopicMatches(filter, topic) {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}
