package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// LocalBus is the single-process Bus: one buffered channel per address,
// drained by a goroutine per subscriber so a slow handler cannot stall
// the publisher. This is the "local event bus" spec.md §4.5 names for
// non-cluster deployments.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan Envelope

	queueDepth int
}

func NewLocalBus(queueDepth int) *LocalBus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &LocalBus{subs: make(map[string]map[string]chan Envelope), queueDepth: queueDepth}
}

func (b *LocalBus) Publish(_ context.Context, address string, payload []byte) error {
	env := Envelope{Address: address, Payload: payload, Timestamp: time.Now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[address] {
		select {
		case ch <- env:
		default:
			// Drop rather than block the publisher; at-least-once is
			// still honored for subscribers keeping pace.
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, address string, handler Handler) (func(), error) {
	id := uuid.NewString()
	ch := make(chan Envelope, b.queueDepth)

	b.mu.Lock()
	if b.subs[address] == nil {
		b.subs[address] = make(map[string]chan Envelope)
	}
	b.subs[address][id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case env := <-ch:
				handler(ctx, env)
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[address], id)
		if len(b.subs[address]) == 0 {
			delete(b.subs, address)
		}
		b.mu.Unlock()
		close(done)
	}
	return cancel, nil
}

func (b *LocalBus) Request(ctx context.Context, address string, payload []byte, timeout time.Duration) ([]byte, error) {
	replyTo := "reply." + uuid.NewString()
	replyCh := make(chan []byte, 1)

	cancel, err := b.Subscribe(ctx, replyTo, func(_ context.Context, env Envelope) {
		select {
		case replyCh <- env.Payload:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	env := Envelope{Address: address, Payload: payload, ReplyTo: replyTo, Timestamp: time.Now()}
	b.mu.RLock()
	for _, ch := range b.subs[address] {
		select {
		case ch <- env:
		default:
		}
	}
	b.mu.RUnlock()

	ctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "bus.Request", 0, ctx.Err())
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[string]chan Envelope)
	return nil
}
