// Package archivegroup implements the archive group engine spec.md
// §4.6 describes: filter-matching fan-out of published messages to a
// last-value sink and a batched append-only archive sink, plus
// retention-driven purging.
package archivegroup

import (
	"context"
	"sync"
	"time"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/store/archive"
	"github.com/vogler75/monstermq/internal/store/lastvalue"
	"github.com/vogler75/monstermq/internal/topicindex"
)

// DefaultBatchSize and DefaultBatchTimeout are spec.md §4.6's stated
// defaults for the archive sink's bulk writer.
const (
	DefaultBatchSize    = 1000
	DefaultBatchTimeout = 5 * time.Second
)

// Group is one configured archive group: a name, an enable flag, the
// topic filters it matches against, whether it only captures retained
// publishes, and its two sinks.
type Group struct {
	Name          string
	Enabled       bool
	Filters       []string
	RetainedOnly  bool
	LastValueSink lastvalue.Sink
	ArchiveSink   archive.Sink
	Retention     time.Duration // 0 = keep forever

	BatchSize    int
	BatchTimeout time.Duration
}

func (g *Group) matches(topic string) bool {
	for _, f := range g.Filters {
		if topicindex.TopicMatches(f, topic) {
			return true
		}
	}
	return false
}

// batcher accumulates records for one group and flushes them to the
// archive sink either when it fills or its timeout elapses, whichever
// comes first.
type batcher struct {
	group *Group
	mu    sync.Mutex
	buf   []archive.Record
	timer *time.Timer
}

// Engine fans each published message out to every enabled, matching
// group, writing the current value and queuing the archive append.
type Engine struct {
	mu      sync.RWMutex
	groups  map[string]*Group
	batches map[string]*batcher
}

func NewEngine() *Engine {
	return &Engine{groups: make(map[string]*Group), batches: make(map[string]*batcher)}
}

// AddGroup installs or replaces a group's configuration.
func (e *Engine) AddGroup(g *Group) {
	if g.BatchSize <= 0 {
		g.BatchSize = DefaultBatchSize
	}
	if g.BatchTimeout <= 0 {
		g.BatchTimeout = DefaultBatchTimeout
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups[g.Name] = g
	e.batches[g.Name] = &batcher{group: g}
}

func (e *Engine) RemoveGroup(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.groups, name)
	delete(e.batches, name)
}

// Dispatch fans msg out to every enabled group whose filters match,
// per spec.md §4.6: retained-only groups skip non-retained publishes;
// a matching group overwrites its last-value sink immediately and
// queues an archive-sink append for the next batch flush.
func (e *Engine) Dispatch(ctx context.Context, msg *model.BrokerMessage) error {
	e.mu.RLock()
	groups := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		groups = append(groups, g)
	}
	e.mu.RUnlock()

	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		if g.RetainedOnly && !msg.Retain {
			continue
		}
		if !g.matches(msg.Topic) {
			continue
		}
		if g.LastValueSink != nil {
			if err := g.LastValueSink.Set(ctx, g.Name, msg); err != nil {
				return err
			}
		}
		if g.ArchiveSink != nil {
			e.enqueue(ctx, g, archive.RecordFromMessage(msg))
		}
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, g *Group, rec archive.Record) {
	e.mu.RLock()
	b := e.batches[g.Name]
	e.mu.RUnlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, rec)
	if len(b.buf) >= g.BatchSize {
		e.flushLocked(ctx, g, b)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(g.BatchTimeout, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			e.flushLocked(context.Background(), g, b)
		})
	}
}

// flushLocked writes every buffered record and resets the batch. The
// caller must hold b.mu.
func (e *Engine) flushLocked(ctx context.Context, g *Group, b *batcher) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.buf) == 0 {
		return
	}
	for _, rec := range b.buf {
		_ = g.ArchiveSink.Append(ctx, g.Name, rec)
	}
	b.buf = nil
}

// Flush forces every group's pending batch to the archive sink now,
// used on graceful shutdown.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, b := range e.batches {
		g := e.groups[name]
		b.mu.Lock()
		e.flushLocked(ctx, g, b)
		b.mu.Unlock()
	}
}

// PurgeOlderThan runs each enabled group's retention purge against its
// archive sink, skipping sinks that do not implement archive.Purger
// (e.g. a Kafka log, whose retention is a broker-side concern) and
// groups configured to keep data forever (Retention == 0).
func (e *Engine) PurgeOlderThan(ctx context.Context, now time.Time) error {
	e.mu.RLock()
	groups := make([]*Group, 0, len(e.groups))
	for _, g := range e.groups {
		groups = append(groups, g)
	}
	e.mu.RUnlock()

	for _, g := range groups {
		if !g.Enabled || g.Retention <= 0 || g.ArchiveSink == nil {
			continue
		}
		purger, ok := g.ArchiveSink.(archive.Purger)
		if !ok {
			continue
		}
		cutoff := now.Add(-g.Retention)
		if err := purger.PurgeOlderThan(ctx, g.Name, cutoff); err != nil {
			return err
		}
	}
	return nil
}
