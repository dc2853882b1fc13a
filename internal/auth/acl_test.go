package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/auth"
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/store/user"
)

func newSeededStore(t *testing.T) user.Store {
	t.Helper()
	store := user.NewMemoryStore(4)

	require.NoError(t, store.SaveUser(context.Background(), &model.User{
		Username: "admin", Enabled: true, IsAdmin: true,
	}, "secret"))

	require.NoError(t, store.SaveUser(context.Background(), &model.User{
		Username: "plain", Enabled: true, GlobalSubscribe: true, GlobalPublish: false,
	}, "secret"))

	require.NoError(t, store.SaveUser(context.Background(), &model.User{
		Username: "disabled", Enabled: false, GlobalSubscribe: true, GlobalPublish: true,
	}, "secret"))

	require.NoError(t, store.SaveAclRule(context.Background(), model.AclRule{
		Username: "plain", FilterPattern: "forbidden/#", AllowSubscribe: false, AllowPublish: false, Priority: 10,
	}))
	require.NoError(t, store.SaveAclRule(context.Background(), model.AclRule{
		Username: "plain", FilterPattern: "devices/+/cmd", AllowSubscribe: true, AllowPublish: true, Priority: 5,
	}))

	return store
}

func TestAllowAdminBypassesRules(t *testing.T) {
	ev := auth.NewEvaluator(newSeededStore(t), 0)
	ok, err := ev.Allow(context.Background(), "admin", "forbidden/anything", model.OpPublish)
	require.NoError(t, err)
	require.True(t, ok, "an admin user must be allowed regardless of rules")
}

func TestAllowDeniesDisabledUser(t *testing.T) {
	ev := auth.NewEvaluator(newSeededStore(t), 0)
	ok, err := ev.Allow(context.Background(), "disabled", "anything", model.OpSubscribe)
	require.NoError(t, err)
	require.False(t, ok, "a disabled user must be denied even with global flags set")
}

func TestAllowDeniesUnknownUser(t *testing.T) {
	ev := auth.NewEvaluator(newSeededStore(t), 0)
	ok, err := ev.Allow(context.Background(), "nobody", "a/b", model.OpSubscribe)
	require.NoError(t, err)
	require.False(t, ok, "an unknown username must be denied")
}

func TestAllowMatchingRuleOverridesGlobalFlag(t *testing.T) {
	ev := auth.NewEvaluator(newSeededStore(t), 0)

	ok, err := ev.Allow(context.Background(), "plain", "forbidden/topic", model.OpSubscribe)
	require.NoError(t, err)
	require.False(t, ok, "a matching deny rule must override the user's global subscribe flag")

	ok, err = ev.Allow(context.Background(), "plain", "devices/1/cmd", model.OpPublish)
	require.NoError(t, err)
	require.True(t, ok, "a matching allow rule must override the user's global publish flag")
}

func TestAllowFallsBackToGlobalFlagsWithoutMatchingRule(t *testing.T) {
	ev := auth.NewEvaluator(newSeededStore(t), 0)

	ok, err := ev.Allow(context.Background(), "plain", "unrelated/topic", model.OpSubscribe)
	require.NoError(t, err)
	require.True(t, ok, "subscribe must fall back to GlobalSubscribe when no rule matches")

	ok, err = ev.Allow(context.Background(), "plain", "unrelated/topic", model.OpPublish)
	require.NoError(t, err)
	require.False(t, ok, "publish must fall back to GlobalPublish when no rule matches")
}

func TestInvalidateForcesReload(t *testing.T) {
	store := newSeededStore(t)
	ev := auth.NewEvaluator(store, 0)

	ok, err := ev.Allow(context.Background(), "plain", "devices/1/cmd", model.OpPublish)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.DeleteAclRule(context.Background(), "plain", "devices/+/cmd"))
	ev.Invalidate("plain")

	ok, err = ev.Allow(context.Background(), "plain", "devices/1/cmd", model.OpPublish)
	require.NoError(t, err)
	require.False(t, ok, "after invalidation and rule deletion, publish should fall back to the global flag")
}
