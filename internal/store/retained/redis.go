package retained

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/topicindex"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// RedisStore is the clustered Store backend: one Redis key per topic,
// under keyPrefix, holding the msgpack-encoded BrokerMessage. Matching
// a wildcard filter scans keys under the prefix rather than relying on
// Redis's own glob syntax, since MQTT wildcard semantics (+/# with
// segment boundaries) do not map onto it.
type RedisStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	scanCount  int64
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "monstermq:retained:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, scanCount: 200}
}

func (r *RedisStore) key(topic string) string {
	return r.keyPrefix + topic
}

func (r *RedisStore) Set(ctx context.Context, msg *model.BrokerMessage) error {
	blob, err := msgpack.Marshal(msg)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageFatal, "retained.Set", 0, err)
	}
	if err := r.client.Set(ctx, r.key(msg.Topic), blob, 0).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "retained.Set", 0, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, topic string) error {
	if err := r.client.Del(ctx, r.key(topic)).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "retained.Delete", 0, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, topic string) (*model.BrokerMessage, bool, error) {
	blob, err := r.client.Get(ctx, r.key(topic)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mqtterr.Wrap(mqtterr.KindStorageTransient, "retained.Get", 0, err)
	}
	var msg model.BrokerMessage
	if err := msgpack.Unmarshal(blob, &msg); err != nil {
		return nil, false, mqtterr.Wrap(mqtterr.KindStorageFatal, "retained.Get", 0, err)
	}
	return &msg, true, nil
}

func (r *RedisStore) Match(ctx context.Context, filter string) ([]*model.BrokerMessage, error) {
	var out []*model.BrokerMessage
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.keyPrefix+"*", r.scanCount).Result()
		if err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "retained.Match", 0, err)
		}
		if len(keys) > 0 {
			values, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "retained.Match", 0, err)
			}
			for i, key := range keys {
				topic := key[len(r.keyPrefix):]
				if !topicindex.TopicMatches(filter, topic) {
					continue
				}
				raw, ok := values[i].(string)
				if !ok {
					continue
				}
				var msg model.BrokerMessage
				if err := msgpack.Unmarshal([]byte(raw), &msg); err != nil {
					return nil, mqtterr.Wrap(mqtterr.KindStorageFatal, "retained.Match", 0, err)
				}
				out = append(out, &msg)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
