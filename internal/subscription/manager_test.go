package subscription_test

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/subscription"
)

func TestSubscribeReportsNewness(t *testing.T) {
	m := subscription.NewManager()

	isNew, err := m.Subscribe(model.Subscription{ClientID: "c1", Filter: "a/b", QoS: model.QoS1})
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = m.Subscribe(model.Subscription{ClientID: "c1", Filter: "a/b", QoS: model.QoS2})
	require.NoError(t, err)
	require.False(t, isNew, "re-subscribing the same (client, filter) pair must not report newness")

	got, ok := m.Get("c1", "a/b")
	require.True(t, ok)
	require.Equal(t, model.QoS2, got.QoS, "the second Subscribe call must replace the stored options")
}

func TestMatchingSubscriptionsCarriesOptions(t *testing.T) {
	m := subscription.NewManager()
	want := model.Subscription{ClientID: "c1", Filter: "a/+", QoS: model.QoS1, NoLocal: true, RetainAsPublished: true}
	_, err := m.Subscribe(want)
	require.NoError(t, err)

	matches := m.MatchingSubscriptions("a/b")
	require.Len(t, matches, 1)
	if diff := cmp.Diff(want, matches[0]); diff != "" {
		t.Fatalf("matched subscription diverged from what was stored (-want +got):\n%s", diff)
	}
}

func TestForClientListsEveryFilter(t *testing.T) {
	m := subscription.NewManager()
	_, err := m.Subscribe(model.Subscription{ClientID: "c1", Filter: "a/b", QoS: model.QoS0})
	require.NoError(t, err)
	_, err = m.Subscribe(model.Subscription{ClientID: "c1", Filter: "x/y", QoS: model.QoS1})
	require.NoError(t, err)
	_, err = m.Subscribe(model.Subscription{ClientID: "c2", Filter: "a/b", QoS: model.QoS0})
	require.NoError(t, err)

	subs := m.ForClient("c1")
	filters := make([]string, 0, len(subs))
	for _, s := range subs {
		filters = append(filters, s.Filter)
	}
	sort.Strings(filters)
	require.Equal(t, []string{"a/b", "x/y"}, filters)
}

func TestGetRetainAsPublishedFallsBackToWildcard(t *testing.T) {
	m := subscription.NewManager()
	_, err := m.Subscribe(model.Subscription{ClientID: "c1", Filter: "a/#", RetainAsPublished: true})
	require.NoError(t, err)

	require.True(t, m.GetRetainAsPublished("c1", "a/b/c"))
	require.False(t, m.GetRetainAsPublished("c1", "other/topic"), "an unmatched topic must default to false")
}

func TestUnsubscribeReportsWhetherItExisted(t *testing.T) {
	m := subscription.NewManager()
	_, err := m.Subscribe(model.Subscription{ClientID: "c1", Filter: "a/b"})
	require.NoError(t, err)

	require.True(t, m.Unsubscribe("c1", "a/b"))
	require.False(t, m.Unsubscribe("c1", "a/b"), "unsubscribing a filter twice must report false the second time")
	require.Empty(t, m.MatchingSubscriptions("a/b"))
}
