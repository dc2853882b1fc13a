package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// wireEnvelope is what actually travels over a Redis channel; the
// Redis channel name itself carries the address, so only the payload
// and reply-to metadata need encoding.
type wireEnvelope struct {
	Payload   []byte
	ReplyTo   string
	Timestamp time.Time
}

// RedisBus is the clustered Bus backend: each address is a Redis
// pub/sub channel, so the same address space spans every node
// subscribed to it. Delivery is at-least-once per spec.md §4.5 (Redis
// pub/sub drops messages to subscribers that are not currently
// connected, which the session handler tolerates via packet-id reuse
// detection for QoS>0, same as any other cluster delivery gap).
type RedisBus struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisBus(client redis.UniversalClient, keyPrefix string) *RedisBus {
	if keyPrefix == "" {
		keyPrefix = "monstermq:bus:"
	}
	return &RedisBus{client: client, keyPrefix: keyPrefix}
}

func (r *RedisBus) channel(address string) string { return r.keyPrefix + address }

func (r *RedisBus) publish(ctx context.Context, address string, env wireEnvelope) error {
	blob, err := msgpack.Marshal(env)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageFatal, "bus.Publish", 0, err)
	}
	if err := r.client.Publish(ctx, r.channel(address), blob).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "bus.Publish", 0, err)
	}
	return nil
}

func (r *RedisBus) Publish(ctx context.Context, address string, payload []byte) error {
	return r.publish(ctx, address, wireEnvelope{Payload: payload, Timestamp: time.Now()})
}

func (r *RedisBus) Subscribe(ctx context.Context, address string, handler Handler) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channel(address))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "bus.Subscribe", 0, err)
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env wireEnvelope
				if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				handler(ctx, Envelope{
					Address:   address,
					Payload:   env.Payload,
					ReplyTo:   env.ReplyTo,
					Timestamp: env.Timestamp,
				})
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return cancel, nil
}

func (r *RedisBus) Request(ctx context.Context, address string, payload []byte, timeout time.Duration) ([]byte, error) {
	replyTo := "reply." + uuid.NewString()
	replyCh := make(chan []byte, 1)

	cancel, err := r.Subscribe(ctx, replyTo, func(_ context.Context, env Envelope) {
		select {
		case replyCh <- env.Payload:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := r.publish(ctx, address, wireEnvelope{Payload: payload, ReplyTo: replyTo, Timestamp: time.Now()}); err != nil {
		return nil, err
	}

	reqCtx, stop := context.WithTimeout(ctx, timeout)
	defer stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-reqCtx.Done():
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "bus.Request", 0, reqCtx.Err())
	}
}

func (r *RedisBus) Close() error {
	return nil
}
