// Package cluster implements the coordinator spec.md §4.8 describes:
// consistent-hash device/client ownership, a distributed lock, and a
// client-id -> owning-node map, plus the degenerate single-node
// implementation where every query answers "yes, locally".
package cluster

import (
	"context"
	"time"
)

// Lock is a releasable handle returned by AcquireLock. Release is
// idempotent and safe to call from a deferred statement.
type Lock interface {
	Release(ctx context.Context) error
}

// Coordinator is the cluster-membership and ownership contract used by
// the purge task, metrics collector, and session handler's remote
// delivery path.
type Coordinator interface {
	// IsLocalNodeResponsible reports whether this node owns id under
	// the current membership's consistent hash ring (used for device
	// connectors, spec.md §4.8).
	IsLocalNodeResponsible(ctx context.Context, id string) (bool, error)
	// AcquireLock blocks up to timeout to take an exclusive,
	// cluster-wide lock named name. Used by the purge task and metrics
	// collector so only one elected node runs a periodic job.
	AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error)

	// NodeForClient returns the node id currently owning clientID, or
	// ok=false if the client is not connected anywhere.
	NodeForClient(ctx context.Context, clientID string) (nodeID string, ok bool, err error)
	// SetNodeForClient records clientID as owned by this coordinator's
	// node, called on successful CONNECT.
	SetNodeForClient(ctx context.Context, clientID string) error
	// ClearNodeForClient removes the ownership record, called on
	// DISCONNECT or session destruction.
	ClearNodeForClient(ctx context.Context, clientID string) error

	// NodeID returns this coordinator's own node identifier.
	NodeID() string
}
