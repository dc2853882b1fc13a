package lastvalue

import (
	"context"
	"sync"

	"github.com/vogler75/monstermq/internal/model"
)

// MemorySink is an in-memory Sink for tests and embedded deployments.
type MemorySink struct {
	mu    sync.RWMutex
	byKey map[string]*model.BrokerMessage
}

func NewMemorySink() *MemorySink {
	return &MemorySink{byKey: make(map[string]*model.BrokerMessage)}
}

func key(group, topic string) string { return group + "|" + topic }

func (s *MemorySink) Set(_ context.Context, group string, msg *model.BrokerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key(group, msg.Topic)] = msg.Clone()
	return nil
}

func (s *MemorySink) Get(_ context.Context, group, topic string) (*model.BrokerMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byKey[key(group, topic)]
	if !ok {
		return nil, false, nil
	}
	return msg.Clone(), true, nil
}

func (s *MemorySink) Close() error { return nil }
