package topicindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vogler75/monstermq/internal/topicindex"
)

func TestMatchingSubscribersExactAndWildcard(t *testing.T) {
	idx := topicindex.New()
	require.NoError(t, idx.Subscribe("c1", "sensors/kitchen/temp"))
	require.NoError(t, idx.Subscribe("c2", "sensors/+/temp"))
	require.NoError(t, idx.Subscribe("c3", "sensors/#"))
	require.NoError(t, idx.Subscribe("c4", "other/topic"))

	matches := idx.MatchingSubscribers("sensors/kitchen/temp")

	clients := make(map[string]bool)
	for _, m := range matches {
		clients[m.ClientID] = true
	}
	require.True(t, clients["c1"])
	require.True(t, clients["c2"])
	require.True(t, clients["c3"])
	require.False(t, clients["c4"])
}

func TestMultiLevelWildcardMatchesDeepTopics(t *testing.T) {
	idx := topicindex.New()
	require.NoError(t, idx.Subscribe("c1", "a/#"))

	require.True(t, topicindex.TopicMatches("a/#", "a/b/c/d"))
	matches := idx.MatchingSubscribers("a/b/c/d")
	require.Len(t, matches, 1)
	require.Equal(t, "c1", matches[0].ClientID)
}

func TestReservedRootNotMatchedByHashAlone(t *testing.T) {
	idx := topicindex.New()
	require.NoError(t, idx.Subscribe("c1", "#"))

	matches := idx.MatchingSubscribers("$SYS/broker/uptime")
	require.Empty(t, matches, "a bare # must not match topics under a reserved root")
}

func TestUnsubscribeRemovesClient(t *testing.T) {
	idx := topicindex.New()
	require.NoError(t, idx.Subscribe("c1", "a/b"))
	idx.Unsubscribe("c1", "a/b")

	require.Empty(t, idx.MatchingSubscribers("a/b"))
}

func TestUnsubscribeAllRemovesEveryFilter(t *testing.T) {
	idx := topicindex.New()
	require.NoError(t, idx.Subscribe("c1", "a/b"))
	require.NoError(t, idx.Subscribe("c1", "x/+"))
	idx.UnsubscribeAll("c1")

	require.Empty(t, idx.MatchingSubscribers("a/b"))
	require.Empty(t, idx.MatchingSubscribers("x/y"))
}

func TestInvalidFilterRejected(t *testing.T) {
	idx := topicindex.New()
	err := idx.Subscribe("c1", "a/#/b")
	require.Error(t, err, "# must be the last segment of a filter")
}
