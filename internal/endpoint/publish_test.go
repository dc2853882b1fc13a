package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vogler75/monstermq/internal/cluster"
	"github.com/vogler75/monstermq/internal/dispatch"
	"github.com/vogler75/monstermq/internal/logger"
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet"
	"github.com/vogler75/monstermq/internal/registry"
	"github.com/vogler75/monstermq/internal/store/retained"
	"github.com/vogler75/monstermq/internal/store/session"
	"github.com/vogler75/monstermq/internal/subscription"
)

// fakeLocalEndpoint satisfies registry.Endpoint and dispatch.LocalEndpoint,
// recording every delivery batch it receives.
type fakeLocalEndpoint struct {
	clientID string
	received chan []dispatch.Delivery
}

func (f *fakeLocalEndpoint) ClientID() string { return f.clientID }
func (f *fakeLocalEndpoint) Deliver(_ []byte) {}
func (f *fakeLocalEndpoint) DeliverBulk(_ context.Context, d []dispatch.Delivery) {
	f.received <- d
}

func newTestEndpoint(t *testing.T) (*Endpoint, *Deps) {
	t.Helper()
	subs := subscription.NewManager()
	reg := registry.New()
	coord := cluster.NewLocalCoordinator("node-1")
	log := logger.New(logger.Config{Component: "test"})
	sessions := session.NewMemoryStore()
	handler := dispatch.NewHandler(subs, retained.NewMemoryStore(), sessions, nil, reg, coord, nil, log)

	deps := &Deps{
		NodeID:        "node-1",
		Sessions:      sessions,
		Subscriptions: subs,
		Registry:      reg,
		Cluster:       coord,
		Dispatch:      handler,
		Log:           log,
	}

	clientConn, _ := net.Pipe()
	ep := New(clientConn, deps)
	ep.clientID = "pub1"
	ep.protocolLevel = 5
	return ep, deps
}

func TestHandlePublishQoS2DedupesRetransmission(t *testing.T) {
	ep, deps := newTestEndpoint(t)

	sub := &fakeLocalEndpoint{clientID: "sub1", received: make(chan []dispatch.Delivery, 4)}
	deps.Registry.Register(sub)
	_, err := deps.Subscriptions.Subscribe(model.Subscription{ClientID: "sub1", Filter: "a/b", QoS: model.QoS1})
	require.NoError(t, err)

	packetID := uint16(1)
	makePublish := func() *packet.PublishPacket {
		return &packet.PublishPacket{
			QoS:      model.QoS2,
			Topic:    "a/b",
			PacketID: &packetID,
			Payload:  []byte("hello"),
		}
	}

	require.True(t, ep.handlePublish(context.Background(), makePublish()))
	require.True(t, ep.handlePublish(context.Background(), makePublish()), "a retransmitted duplicate PUBLISH must still be acked")

	select {
	case got := <-sub.received:
		require.Len(t, got, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the single expected delivery")
	}

	select {
	case got := <-sub.received:
		t.Fatalf("subscriber must receive exactly one delivery for a duplicate QoS2 publish, got a second batch: %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	ep.mu.Lock()
	_, stillTracked := ep.qos2Received[packetID]
	ep.mu.Unlock()
	require.True(t, stillTracked, "the packet id must stay tracked until PUBREL arrives")
}

func TestHandlePubrelClearsDedupeState(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	packetID := uint16(7)

	ep.mu.Lock()
	ep.qos2Received[packetID] = struct{}{}
	ep.mu.Unlock()

	ep.handlePubrel(context.Background(), &packet.PubAckPacket{PacketID: packetID})

	ep.mu.Lock()
	_, tracked := ep.qos2Received[packetID]
	ep.mu.Unlock()
	require.False(t, tracked, "PUBREL must drop the dedupe entry so a later reused packet id is accepted again")
}
