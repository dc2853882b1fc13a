// Package session defines the session store contract (sessions,
// subscriptions, offline queued messages) and its concrete backends.
// Grounded on the teacher's internal/auth.Store (database/sql access
// pattern against github.com/mattn/go-sqlite3) generalized from a
// single users table to the three tables spec.md §6 names.
package session

import (
	"context"

	"github.com/vogler75/monstermq/internal/model"
)

// Store is the durable backend for session state: the session record
// itself, its installed subscriptions, and its offline FIFO queue.
// Implementations must be safe for concurrent use; the engine still
// serializes mutations to one client's session by routing them through
// that client's endpoint handler, but cluster replication or admin
// tooling may call concurrently across different client ids.
type Store interface {
	// SaveSession upserts a session record, keyed by ClientID.
	SaveSession(ctx context.Context, s *model.Session) error
	// LoadSession returns the stored session, or ok=false if absent.
	LoadSession(ctx context.Context, clientID string) (*model.Session, bool, error)
	// DeleteSession removes the session and its subscriptions/queue.
	DeleteSession(ctx context.Context, clientID string) error
	// ExpiredSessions returns every disconnected session whose expiry
	// has passed, for the periodic purge task.
	ExpiredSessions(ctx context.Context) ([]*model.Session, error)

	// SaveSubscriptions replaces the full subscription set for clientID.
	SaveSubscriptions(ctx context.Context, clientID string, subs []model.Subscription) error
	// LoadSubscriptions returns every subscription owned by clientID.
	LoadSubscriptions(ctx context.Context, clientID string) ([]model.Subscription, error)

	// Enqueue appends a message to clientID's offline FIFO, assigning
	// the next sequence number.
	Enqueue(ctx context.Context, clientID string, msg *model.BrokerMessage, expiryInterval int64) error
	// Dequeue returns up to limit queued messages in sequence order,
	// skipping (and removing) any expired relative to now, without
	// removing the messages actually returned — the caller acks
	// delivery via Ack once dispatch succeeds.
	Dequeue(ctx context.Context, clientID string, limit int) ([]*model.QueuedMessage, error)
	// Ack removes a delivered-and-acknowledged queued message.
	Ack(ctx context.Context, clientID string, sequence uint64) error
	// QueueDepth returns the number of still-queued messages for clientID.
	QueueDepth(ctx context.Context, clientID string) (int, error)
}
