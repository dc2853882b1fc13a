package cluster_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/cluster"
)

func newRedisCoordinator(t *testing.T, nodeID string) (*cluster.RedisCoordinator, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return cluster.NewRedisCoordinator(client, nodeID, "test:"), srv
}

func TestRedisCoordinatorSingleMemberIsAlwaysResponsible(t *testing.T) {
	coord, _ := newRedisCoordinator(t, "node-a")
	require.NoError(t, coord.Heartbeat(context.Background(), time.Minute))

	responsible, err := coord.IsLocalNodeResponsible(context.Background(), "any-client")
	require.NoError(t, err)
	require.True(t, responsible, "the sole live member must be responsible for every id")
}

func TestRedisCoordinatorNodeForClientRoundTrips(t *testing.T) {
	coord, _ := newRedisCoordinator(t, "node-a")

	_, ok, err := coord.NodeForClient(context.Background(), "client-1")
	require.NoError(t, err)
	require.False(t, ok, "an unset client must report not-found rather than an error")

	require.NoError(t, coord.SetNodeForClient(context.Background(), "client-1"))
	nodeID, ok, err := coord.NodeForClient(context.Background(), "client-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "node-a", nodeID)

	require.NoError(t, coord.ClearNodeForClient(context.Background(), "client-1"))
	_, ok, err = coord.NodeForClient(context.Background(), "client-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCoordinatorAcquireLockExcludesConcurrentHolder(t *testing.T) {
	coordA, _ := newRedisCoordinator(t, "node-a")

	lock, err := coordA.AcquireLock(context.Background(), "leader", 5*time.Second)
	require.NoError(t, err)

	_, err = coordA.AcquireLock(context.Background(), "leader", 100*time.Millisecond)
	require.Error(t, err, "a second acquire of the same name must fail while the first lock is held")

	require.NoError(t, lock.Release(context.Background()))

	lock2, err := coordA.AcquireLock(context.Background(), "leader", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, lock2.Release(context.Background()))
}
