package dispatch

import (
	"context"
	"time"
)

// PurgeInterval is spec.md §4.4's stated background purge cadence.
const PurgeInterval = 60 * time.Second

const purgeLockName = "session-purge"

// RunPurge blocks, running the purge task every PurgeInterval until
// ctx is cancelled: while holding purgeLockName (released when the run
// ends, so runs never overlap, but no node is elected for the whole
// interval and any node whose tick finds the lock free runs the purge),
// destroy expired sessions (dropping their queued messages
// and subscriptions) and purge archive groups past their retention.
func (h *Handler) RunPurge(ctx context.Context) {
	ticker := time.NewTicker(PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.purgeOnce(ctx)
		}
	}
}

func (h *Handler) purgeOnce(ctx context.Context) {
	if h.Cluster != nil {
		lock, err := h.Cluster.AcquireLock(ctx, purgeLockName, 5*time.Second)
		if err != nil {
			return
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	now := time.Now()

	expired, err := h.Sessions.ExpiredSessions(ctx)
	if err == nil {
		for _, sess := range expired {
			if sess.Expired(now) {
				if err := h.Sessions.DeleteSession(ctx, sess.ClientID); err != nil {
					h.Log.Warn("session purge delete failed", "client_id", sess.ClientID, "error", err)
					continue
				}
				h.Subscriptions.UnsubscribeAll(sess.ClientID)
				if h.Cluster != nil {
					_ = h.Cluster.ClearNodeForClient(ctx, sess.ClientID)
				}
			}
		}
	}

	if h.Archive != nil {
		if err := h.Archive.PurgeOlderThan(ctx, now); err != nil {
			h.Log.Warn("archive purge failed", "error", err)
		}
	}
}
