package cluster

import (
	"context"
	"sync"
	"time"
)

// LocalCoordinator is the degenerate single-node Coordinator spec.md
// §4.8 calls for: ownership queries always return true/local, and
// locks are a plain in-process mutex per name.
type LocalCoordinator struct {
	nodeID string

	mu      sync.Mutex
	locks   map[string]chan struct{}
	clients map[string]string
}

func NewLocalCoordinator(nodeID string) *LocalCoordinator {
	return &LocalCoordinator{
		nodeID:  nodeID,
		locks:   make(map[string]chan struct{}),
		clients: make(map[string]string),
	}
}

func (c *LocalCoordinator) IsLocalNodeResponsible(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type localLock struct {
	sem chan struct{}
}

func (l *localLock) Release(_ context.Context) error {
	select {
	case l.sem <- struct{}{}:
	default:
	}
	return nil
}

// AcquireLock takes name's one-slot semaphore, never leaving it locked
// when the caller times out: the select below only removes the token
// on the branch that actually wins it.
func (c *LocalCoordinator) AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error) {
	c.mu.Lock()
	sem, ok := c.locks[name]
	if !ok {
		sem = make(chan struct{}, 1)
		sem <- struct{}{}
		c.locks[name] = sem
	}
	c.mu.Unlock()

	ctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()
	select {
	case <-sem:
		return &localLock{sem: sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LocalCoordinator) NodeForClient(_ context.Context, clientID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodeID, ok := c.clients[clientID]
	return nodeID, ok, nil
}

func (c *LocalCoordinator) SetNodeForClient(_ context.Context, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[clientID] = c.nodeID
	return nil
}

func (c *LocalCoordinator) ClearNodeForClient(_ context.Context, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, clientID)
	return nil
}

func (c *LocalCoordinator) NodeID() string { return c.nodeID }
