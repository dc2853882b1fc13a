// Package subscription layers subscription options (QoS, no-local,
// retain-handling, retain-as-published) on top of the topic index,
// exactly as spec.md §4.2 describes: the index itself knows only
// "which client ids match this topic"; this package is the
// authoritative map of (client, filter) -> full Subscription.
package subscription

import (
	"sync"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/topicindex"
)

// Manager is the authoritative in-memory subscription table. Mutations
// for a single client id are serialized through a per-client striped
// lock so interleaved SUBSCRIBE/UNSUBSCRIBE calls from the same
// connection never race (the connection processes packets one at a
// time anyway, but cluster replication and admin tooling may also
// mutate subscriptions concurrently).
type Manager struct {
	index *topicindex.Index

	mu   sync.RWMutex
	subs map[string]model.Subscription // "clientID|filter" -> options

	clientMu sync.Map // clientID -> *sync.Mutex, striping mutation races
}

func NewManager() *Manager {
	return &Manager{
		index: topicindex.New(),
		subs:  make(map[string]model.Subscription),
	}
}

func (m *Manager) lockClient(clientID string) func() {
	v, _ := m.clientMu.LoadOrStore(clientID, &sync.Mutex{})
	l := v.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// Subscribe installs or replaces the subscription for (clientID, filter).
// Returns whether this is a brand-new (client, filter) pair, needed by
// the endpoint to evaluate retain-handling=1.
func (m *Manager) Subscribe(sub model.Subscription) (isNew bool, err error) {
	unlock := m.lockClient(sub.ClientID)
	defer unlock()

	if err := topicindex.IsValidTopicFilter(sub.Filter); err != nil {
		return false, err
	}

	isNew = !m.index.HasSubscriber(sub.Filter, sub.ClientID)

	if err := m.index.Subscribe(sub.ClientID, sub.Filter); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.subs[sub.Key()] = sub
	m.mu.Unlock()
	return isNew, nil
}

// Unsubscribe removes the subscription for (clientID, filter). Returns
// false if no such subscription existed (UNSUBACK reason
// no-subscription-existed).
func (m *Manager) Unsubscribe(clientID, filter string) bool {
	unlock := m.lockClient(clientID)
	defer unlock()

	key := model.Subscription{ClientID: clientID, Filter: filter}.Key()
	m.mu.Lock()
	_, existed := m.subs[key]
	delete(m.subs, key)
	m.mu.Unlock()

	if existed {
		m.index.Unsubscribe(clientID, filter)
	}
	return existed
}

// UnsubscribeAll purges every subscription for clientID, called on
// disconnect.
func (m *Manager) UnsubscribeAll(clientID string) {
	unlock := m.lockClient(clientID)
	defer unlock()

	m.mu.Lock()
	for key, sub := range m.subs {
		if sub.ClientID == clientID {
			delete(m.subs, key)
		}
	}
	m.mu.Unlock()
	m.index.UnsubscribeAll(clientID)
	m.clientMu.Delete(clientID)
}

// MatchingSubscriptions returns the full Subscription (with options) for
// every (client, filter) whose filter matches topic.
func (m *Manager) MatchingSubscriptions(topic string) []model.Subscription {
	matches := m.index.MatchingSubscribers(topic)
	if len(matches) == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Subscription, 0, len(matches))
	for _, match := range matches {
		key := model.Subscription{ClientID: match.ClientID, Filter: match.Filter}.Key()
		if sub, ok := m.subs[key]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// Get returns the Subscription for (clientID, filter), if any.
func (m *Manager) Get(clientID, filter string) (model.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[model.Subscription{ClientID: clientID, Filter: filter}.Key()]
	return sub, ok
}

// ForClient returns every subscription currently held by clientID.
func (m *Manager) ForClient(clientID string) []model.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Subscription
	for _, sub := range m.subs {
		if sub.ClientID == clientID {
			out = append(out, sub)
		}
	}
	return out
}

// GetRetainAsPublished implements the wildcard-aware lookup spec.md
// §4.2 describes: check the exact (clientID, topic) pair first, then
// fall back to scanning the client's wildcard filters for one matching
// topic. Returns false (the MQTT default) if nothing matches.
func (m *Manager) GetRetainAsPublished(clientID, topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sub, ok := m.subs[model.Subscription{ClientID: clientID, Filter: topic}.Key()]; ok {
		return sub.RetainAsPublished
	}
	for _, sub := range m.subs {
		if sub.ClientID != clientID {
			continue
		}
		if topicindex.TopicMatches(sub.Filter, topic) {
			return sub.RetainAsPublished
		}
	}
	return false
}

// HasSubscriber reports whether clientID already holds filter.
func (m *Manager) HasSubscriber(filter, clientID string) bool {
	return m.index.HasSubscriber(filter, clientID)
}

// Count returns the total number of installed subscriptions, for metrics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
