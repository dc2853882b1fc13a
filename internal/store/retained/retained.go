// Package retained defines the retained-message store contract
// (spec.md §4.2: topic -> last retained message, matchable by filter)
// and its concrete backends. Grounded on the teacher's session map in
// internal/broker/broker.go for the in-memory shape, and on the rest
// of the example pack for a clustered backend: go-redis's distributed
// key->value map is a natural fit for "topic -> last retained message"
// shared across nodes.
package retained

import (
	"context"

	"github.com/vogler75/monstermq/internal/model"
)

// Store is the retained-message backend. A zero-length payload with
// Retain=true clears the entry rather than storing one; callers
// (the session handler) translate that rule into Delete, not Set.
type Store interface {
	// Set stores msg as the retained message for its topic, replacing
	// any previous entry.
	Set(ctx context.Context, msg *model.BrokerMessage) error
	// Delete removes the retained entry for topic, if any.
	Delete(ctx context.Context, topic string) error
	// Get returns the retained message for an exact topic, if any.
	Get(ctx context.Context, topic string) (*model.BrokerMessage, bool, error)
	// Match returns every retained message whose topic matches filter,
	// for delivery at subscribe time.
	Match(ctx context.Context, filter string) ([]*model.BrokerMessage, error)
}
