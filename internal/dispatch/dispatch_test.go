package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/cluster"
	"github.com/vogler75/monstermq/internal/dispatch"
	"github.com/vogler75/monstermq/internal/logger"
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/registry"
	"github.com/vogler75/monstermq/internal/store/retained"
	"github.com/vogler75/monstermq/internal/store/session"
	"github.com/vogler75/monstermq/internal/subscription"
)

func newTestHandler() *dispatch.Handler {
	subs := subscription.NewManager()
	reg := registry.New()
	coord := cluster.NewLocalCoordinator("node-1")
	log := logger.New(logger.Config{Component: "test"})
	return dispatch.NewHandler(subs, retained.NewMemoryStore(), session.NewMemoryStore(), nil, reg, coord, nil, log)
}

// fakeEndpoint records every delivery batch handed to it, satisfying
// dispatch.LocalEndpoint.
type fakeEndpoint struct {
	clientID string
	received chan []dispatch.Delivery
}

func (f *fakeEndpoint) ClientID() string      { return f.clientID }
func (f *fakeEndpoint) Deliver(_ []byte)      {}
func (f *fakeEndpoint) DeliverBulk(_ context.Context, d []dispatch.Delivery) {
	f.received <- d
}

func waitForDelivery(t *testing.T, ch chan []dispatch.Delivery) []dispatch.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestPublishDeliversToLocalSubscriberWithMinQoS(t *testing.T) {
	h := newTestHandler()
	ep := &fakeEndpoint{clientID: "sub1", received: make(chan []dispatch.Delivery, 1)}
	h.Registry.Register(ep)

	_, err := h.Subscriptions.Subscribe(model.Subscription{ClientID: "sub1", Filter: "a/b", QoS: model.QoS1})
	require.NoError(t, err)

	msg := &model.BrokerMessage{Topic: "a/b", Payload: []byte("hi"), QoS: model.QoS2, OriginID: "pub1", CreatedAt: time.Now()}
	require.NoError(t, h.Publish(context.Background(), msg))

	got := waitForDelivery(t, ep.received)
	require.Len(t, got, 1)
	require.Equal(t, model.QoS1, got[0].QoS, "effective QoS must be min(publish QoS, subscription QoS)")
}

func TestPublishHonorsNoLocal(t *testing.T) {
	h := newTestHandler()
	ep := &fakeEndpoint{clientID: "pub1", received: make(chan []dispatch.Delivery, 1)}
	h.Registry.Register(ep)

	_, err := h.Subscriptions.Subscribe(model.Subscription{ClientID: "pub1", Filter: "a/b", QoS: model.QoS0, NoLocal: true})
	require.NoError(t, err)

	msg := &model.BrokerMessage{Topic: "a/b", Payload: []byte("hi"), QoS: model.QoS0, OriginID: "pub1", CreatedAt: time.Now()}
	require.NoError(t, h.Publish(context.Background(), msg))

	select {
	case <-ep.received:
		t.Fatal("no-local subscriber must not receive its own publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishClearsRetainUnlessRetainAsPublished(t *testing.T) {
	h := newTestHandler()
	epPlain := &fakeEndpoint{clientID: "plain", received: make(chan []dispatch.Delivery, 1)}
	epRAP := &fakeEndpoint{clientID: "rap", received: make(chan []dispatch.Delivery, 1)}
	h.Registry.Register(epPlain)
	h.Registry.Register(epRAP)

	_, err := h.Subscriptions.Subscribe(model.Subscription{ClientID: "plain", Filter: "a/b", QoS: model.QoS0})
	require.NoError(t, err)
	_, err = h.Subscriptions.Subscribe(model.Subscription{ClientID: "rap", Filter: "a/b", QoS: model.QoS0, RetainAsPublished: true})
	require.NoError(t, err)

	msg := &model.BrokerMessage{Topic: "a/b", Payload: []byte("hi"), QoS: model.QoS0, Retain: true, OriginID: "pub1", CreatedAt: time.Now()}
	require.NoError(t, h.Publish(context.Background(), msg))

	plainGot := waitForDelivery(t, epPlain.received)
	rapGot := waitForDelivery(t, epRAP.received)
	require.False(t, plainGot[0].Message.Retain, "retain flag must be cleared for a subscriber without retain-as-published")
	require.True(t, rapGot[0].Message.Retain, "retain flag must be preserved for a subscriber with retain-as-published")
}

func TestPublishEnqueuesOfflineForQoSGreaterThanZero(t *testing.T) {
	h := newTestHandler()
	_, err := h.Subscriptions.Subscribe(model.Subscription{ClientID: "offline", Filter: "a/b", QoS: model.QoS1})
	require.NoError(t, err)

	msg := &model.BrokerMessage{Topic: "a/b", Payload: []byte("hi"), QoS: model.QoS1, OriginID: "pub1", CreatedAt: time.Now()}
	require.NoError(t, h.Publish(context.Background(), msg))

	require.Eventually(t, func() bool {
		depth, err := h.Sessions.QueueDepth(context.Background(), "offline")
		return err == nil && depth == 1
	}, 2*time.Second, 10*time.Millisecond, "a QoS1 publish to an offline subscriber must be queued in the session store")
}
