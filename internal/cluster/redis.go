package cluster

import (
	"context"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// releaseScript deletes a lock key only if it still holds this
// acquirer's token, so a lock that expired and was re-acquired by
// another node is never released out from under it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisCoordinator is the clustered Coordinator backend: membership is
// tracked as a set of node ids with periodic heartbeats, locks are
// `SET NX PX` keys released by a token-checked Lua script, and
// client->node ownership is a plain Redis hash.
type RedisCoordinator struct {
	client    redis.UniversalClient
	nodeID    string
	keyPrefix string

	release *redis.Script
}

func NewRedisCoordinator(client redis.UniversalClient, nodeID, keyPrefix string) *RedisCoordinator {
	if keyPrefix == "" {
		keyPrefix = "monstermq:cluster:"
	}
	return &RedisCoordinator{
		client:    client,
		nodeID:    nodeID,
		keyPrefix: keyPrefix,
		release:   redis.NewScript(releaseScript),
	}
}

func (c *RedisCoordinator) NodeID() string { return c.nodeID }

func (c *RedisCoordinator) membersKey() string { return c.keyPrefix + "members" }
func (c *RedisCoordinator) clientsKey() string { return c.keyPrefix + "clients" }
func (c *RedisCoordinator) lockKey(name string) string { return c.keyPrefix + "lock:" + name }

// Heartbeat refreshes this node's membership entry; callers run it on
// a short interval (e.g. every few seconds) so a crashed node's
// membership expires and IsLocalNodeResponsible's hash ring shrinks.
func (c *RedisCoordinator) Heartbeat(ctx context.Context, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+"member:"+c.nodeID, "1", ttl).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.Heartbeat", 0, err)
	}
	return c.client.SAdd(ctx, c.membersKey(), c.nodeID).Err()
}

func (c *RedisCoordinator) liveMembers(ctx context.Context) ([]string, error) {
	members, err := c.client.SMembers(ctx, c.membersKey()).Result()
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.liveMembers", 0, err)
	}
	var live []string
	for _, m := range members {
		exists, err := c.client.Exists(ctx, c.keyPrefix+"member:"+m).Result()
		if err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.liveMembers", 0, err)
		}
		if exists == 1 {
			live = append(live, m)
		} else {
			c.client.SRem(ctx, c.membersKey(), m)
		}
	}
	sort.Strings(live)
	return live, nil
}

func ringHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// IsLocalNodeResponsible picks the owning node for id by consistent
// hashing over the current live member set: the member whose hash is
// the smallest value >= hash(id), wrapping around.
func (c *RedisCoordinator) IsLocalNodeResponsible(ctx context.Context, id string) (bool, error) {
	members, err := c.liveMembers(ctx)
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return true, nil
	}
	idHash := ringHash(id)
	owner := members[0]
	best := ^uint32(0)
	for _, m := range members {
		mh := ringHash(m)
		var distance uint32
		if mh >= idHash {
			distance = mh - idHash
		} else {
			distance = (^uint32(0) - idHash) + mh + 1
		}
		if distance < best {
			best = distance
			owner = m
		}
	}
	return owner == c.nodeID, nil
}

type redisLock struct {
	client *redis.Script
	redisC redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := l.client.Run(ctx, l.redisC, []string{l.key}, l.token).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.Release", 0, err)
	}
	return nil
}

func (c *RedisCoordinator) AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error) {
	token := uuid.NewString()
	key := c.lockKey(name)

	deadline := time.Now().Add(timeout)
	for {
		ok, err := c.client.SetNX(ctx, key, token, timeout).Result()
		if err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.AcquireLock", 0, err)
		}
		if ok {
			return &redisLock{client: c.release, redisC: c.client, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, mqtterr.ErrLockUnavailable
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *RedisCoordinator) NodeForClient(ctx context.Context, clientID string) (string, bool, error) {
	nodeID, err := c.client.HGet(ctx, c.clientsKey(), clientID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.NodeForClient", 0, err)
	}
	return nodeID, true, nil
}

func (c *RedisCoordinator) SetNodeForClient(ctx context.Context, clientID string) error {
	if err := c.client.HSet(ctx, c.clientsKey(), clientID, c.nodeID).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.SetNodeForClient", 0, err)
	}
	return nil
}

func (c *RedisCoordinator) ClearNodeForClient(ctx context.Context, clientID string) error {
	if err := c.client.HDel(ctx, c.clientsKey(), clientID).Err(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "cluster.ClearNodeForClient", 0, err)
	}
	return nil
}
