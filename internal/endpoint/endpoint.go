// Package endpoint implements the per-connection client state machine
// spec.md describes: AWAIT_CONNECT -> AUTHENTICATING -> CONNECTED ->
// DISCONNECTING -> CLOSED, driving CONNECT/PUBLISH/SUBSCRIBE/
// UNSUBSCRIBE/PINGREQ/DISCONNECT/AUTH handling, keep-alive and will
// scheduling, flow control, and topic aliasing. Adapted from
// Pyr33x-goqtt/internal/transport/tcp.go's handleConnection read loop
// (manual fixed-header walking, one goroutine per connection), now
// delegating framing to internal/packet.ReadFrame/Parse and owning a
// real per-client state machine instead of a single sessionEstablished
// bool.
package endpoint

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vogler75/monstermq/internal/archivegroup"
	"github.com/vogler75/monstermq/internal/auth"
	"github.com/vogler75/monstermq/internal/bus"
	"github.com/vogler75/monstermq/internal/cluster"
	"github.com/vogler75/monstermq/internal/dispatch"
	"github.com/vogler75/monstermq/internal/logger"
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet"
	"github.com/vogler75/monstermq/internal/registry"
	"github.com/vogler75/monstermq/internal/scheduler"
	"github.com/vogler75/monstermq/internal/store/retained"
	"github.com/vogler75/monstermq/internal/store/session"
	"github.com/vogler75/monstermq/internal/store/user"
	"github.com/vogler75/monstermq/internal/subscription"
)

// state is the connection's position in the lifecycle spec.md names.
type state int32

const (
	stateAwaitConnect state = iota
	stateAuthenticating
	stateConnected
	stateDisconnecting
	stateClosed
)

// DefaultReceiveMaximum is the fixed outstanding-QoS>0 cap applied to
// MQTT 3.1.1 clients, which have no receive-maximum property of their
// own (spec.md §4.3, flow control).
const DefaultReceiveMaximum = 65535

// outboxDepth bounds the per-connection outbound channel Deliver/
// DeliverBulk feed; a slow reader drops rather than blocking the
// publisher, matching registry.Endpoint's "never blocks" contract.
const outboxDepth = 1024

// Deps collects every subsystem an endpoint needs, built once in
// cmd/monstermq and shared by every connection.
type Deps struct {
	NodeID        string
	Users         user.Store
	ACL           *auth.Evaluator
	SASL          *auth.Registry
	Sessions      session.Store
	Retained      retained.Store
	Subscriptions *subscription.Manager
	Registry      *registry.Registry
	Cluster       cluster.Coordinator
	Bus           bus.Bus
	Dispatch      *dispatch.Handler
	Archive       *archivegroup.Engine
	Scheduler     *scheduler.Scheduler
	Log           *logger.Logger

	// AllowAnonymous permits CONNECT without username/password or SASL
	// when true (spec.md §6 config surface).
	AllowAnonymous bool
}

// Endpoint is one client connection's handler.
type Endpoint struct {
	conn net.Conn
	deps *Deps
	log  *logger.Logger

	mu            sync.Mutex
	st            state
	protocolLevel byte
	clientID      string
	username      string
	keepAlive     uint16
	cleanStart    bool
	sessExpiry    uint32
	will          *model.Will
	willDelay     uint32

	inAliases     *model.TopicAliasTable
	outAliases    *model.TopicAliasTable
	topicAliasMax uint16

	writeMu sync.Mutex

	nextPacketID uint16
	inflight     map[uint16]inflightEntry
	receiveMax   uint16

	qos2Received map[uint16]struct{} // inbound QoS2 dedupe, awaiting PUBREL

	outbox     chan []byte
	outboxDone chan struct{}

	busCancel      func()
	keepAliveToken *scheduler.Token
	willToken      *scheduler.Token

	authExch *authExchange
}

type inflightEntry struct {
	qos         model.QoS
	queuedAck   bool // true if this delivery came from the offline queue and needs Ack on completion
	queueSeq    uint64
	awaitPubrel bool // qos2: PUBREC sent, waiting on PUBCOMP
}

func New(conn net.Conn, deps *Deps) *Endpoint {
	return &Endpoint{
		conn:         conn,
		deps:         deps,
		log:          deps.Log,
		st:           stateAwaitConnect,
		inflight:     make(map[uint16]inflightEntry),
		qos2Received: make(map[uint16]struct{}),
		outbox:       make(chan []byte, outboxDepth),
		outboxDone:   make(chan struct{}),
	}
}

// ClientID implements registry.Endpoint.
func (e *Endpoint) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

// Deliver implements registry.Endpoint: a raw, already-encoded bulk
// envelope (as published to this client's bus address) arrives here
// when something holds only the generic interface. Local delivery
// within this process normally goes through the richer DeliverBulk via
// a type assertion instead, bypassing this decode step.
func (e *Endpoint) Deliver(payload []byte) {
	deliveries, err := dispatch.DecodeBulkEnvelope(payload)
	if err != nil {
		e.log.Warn("failed to decode bus delivery", "error", err)
		return
	}
	e.DeliverBulk(context.Background(), deliveries)
}

// DeliverBulk implements dispatch.LocalEndpoint: hand a destination
// batch to the outbound pipeline, one PUBLISH per delivery. QoS>0
// deliveries that exceed the connection's flow-control cap are queued
// in the session store instead, released on PUBACK/PUBCOMP.
func (e *Endpoint) DeliverBulk(ctx context.Context, deliveries []dispatch.Delivery) {
	for _, d := range deliveries {
		e.deliverOne(ctx, d.Message, d.QoS, false, 0)
	}
}

func (e *Endpoint) deliverOne(ctx context.Context, msg *model.BrokerMessage, qos model.QoS, fromQueue bool, queueSeq uint64) {
	var packetID uint16
	if qos > model.QoS0 {
		var ok bool
		packetID, ok = e.reserveInFlight(qos, fromQueue, queueSeq)
		if !ok {
			if fromQueue {
				return // already queued; leave it for the next release cycle
			}
			expiry := model.NoExpiry
			if msg.MessageExpiryInterval != nil {
				expiry = int64(*msg.MessageExpiryInterval)
			}
			if err := e.deps.Sessions.Enqueue(ctx, e.ClientID(), msg, expiry); err != nil {
				e.log.Warn("flow-control enqueue failed", "client_id", e.ClientID(), "error", err)
			}
			return
		}
	}
	e.writePublish(msg, qos, packetID, false)
}

func (e *Endpoint) reserveInFlight(qos model.QoS, fromQueue bool, queueSeq uint64) (uint16, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	max := e.receiveMax
	if max == 0 {
		max = DefaultReceiveMaximum
	}
	if len(e.inflight) >= int(max) {
		return 0, false
	}
	id := e.allocatePacketIDLocked()
	e.inflight[id] = inflightEntry{qos: qos, queuedAck: fromQueue, queueSeq: queueSeq}
	return id, true
}

func (e *Endpoint) allocatePacketIDLocked() uint16 {
	for {
		e.nextPacketID++
		if e.nextPacketID == 0 {
			e.nextPacketID = 1
		}
		if _, taken := e.inflight[e.nextPacketID]; !taken {
			return e.nextPacketID
		}
	}
}

// releaseInFlight drops packetID's reservation and, if it came from
// the offline queue, acks it there; then attempts to release one more
// queued message into the freed slot, per spec.md §4.3's flow-control
// release rule.
func (e *Endpoint) releaseInFlight(ctx context.Context, packetID uint16) {
	e.mu.Lock()
	entry, ok := e.inflight[packetID]
	if ok {
		delete(e.inflight, packetID)
	}
	clientID := e.clientID
	e.mu.Unlock()
	if !ok {
		return
	}
	if entry.queuedAck {
		if err := e.deps.Sessions.Ack(ctx, clientID, entry.queueSeq); err != nil {
			e.log.Warn("queue ack failed", "client_id", clientID, "error", err)
		}
	}
	e.releaseOneQueued(ctx)
}

// releaseOneQueued dequeues up to one pending offline message and
// attempts delivery now that a flow-control slot is free.
func (e *Endpoint) releaseOneQueued(ctx context.Context) {
	clientID := e.ClientID()
	msgs, err := e.deps.Sessions.Dequeue(ctx, clientID, 1)
	if err != nil || len(msgs) == 0 {
		return
	}
	qm := msgs[0]
	e.deliverOne(ctx, qm.Message, modelQoSFromExpiry(qm), true, qm.Sequence)
}

// modelQoSFromExpiry recovers the QoS a queued message was enqueued
// at; it is carried on the message itself.
func modelQoSFromExpiry(qm *model.QueuedMessage) model.QoS {
	return qm.Message.QoS
}

// Run drives the connection's read loop until it closes or ctx is
// cancelled. It always returns after the connection is fully torn
// down.
func (e *Endpoint) Run(ctx context.Context) {
	defer e.cleanup(ctx)

	go e.writer()

	reader := bufio.NewReader(e.conn)
	for {
		e.applyReadDeadline()

		raw, err := packet.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.Debug("read error", "client_id", e.ClientID(), "error", err)
			}
			return
		}

		pp, err := packet.Parse(raw, e.protocolLevelSnapshot())
		if err != nil {
			e.log.Debug("parse error", "client_id", e.ClientID(), "error", err)
			return
		}

		if e.stateSnapshot() == stateAwaitConnect {
			if pp.Type != packet.CONNECT {
				return
			}
			if !e.handleConnect(ctx, pp.Connect) {
				return
			}
			continue
		}

		if !e.dispatchPacket(ctx, pp) {
			return
		}
	}
}

func (e *Endpoint) dispatchPacket(ctx context.Context, pp *packet.ParsedPacket) bool {
	switch pp.Type {
	case packet.PUBLISH:
		return e.handlePublish(ctx, pp.Publish)
	case packet.PUBACK:
		e.releaseInFlight(ctx, pp.PubAck.PacketID)
		return true
	case packet.PUBREC:
		return e.handlePubrec(ctx, pp.PubRec)
	case packet.PUBREL:
		return e.handlePubrel(ctx, pp.PubRel)
	case packet.PUBCOMP:
		e.releaseInFlight(ctx, pp.PubComp.PacketID)
		return true
	case packet.SUBSCRIBE:
		return e.handleSubscribe(ctx, pp.Subscribe)
	case packet.UNSUBSCRIBE:
		return e.handleUnsubscribe(ctx, pp.Unsubscribe)
	case packet.PINGREQ:
		e.send(packet.EncodePingresp())
		return true
	case packet.DISCONNECT:
		e.handleDisconnect(ctx, pp.Disconnect)
		return false
	case packet.AUTH:
		return e.handleAuth(ctx, pp.Auth)
	default:
		return false
	}
}

func (e *Endpoint) stateSnapshot() state {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

func (e *Endpoint) setState(s state) {
	e.mu.Lock()
	e.st = s
	e.mu.Unlock()
}

func (e *Endpoint) protocolLevelSnapshot() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolLevel
}

func (e *Endpoint) applyReadDeadline() {
	e.mu.Lock()
	ka := e.keepAlive
	e.mu.Unlock()
	if ka == 0 {
		_ = e.conn.SetReadDeadline(time.Time{})
		return
	}
	timeout := time.Duration(float64(ka)*1.5) * time.Second
	_ = e.conn.SetReadDeadline(time.Now().Add(timeout))
}

// writer drains the outbox onto the socket on a single goroutine, so
// concurrent callers (the read loop's acks, dispatch's deliveries, the
// scheduler's will/keep-alive firings) never race on conn.Write.
func (e *Endpoint) writer() {
	for {
		select {
		case <-e.outboxDone:
			return
		case data := <-e.outbox:
			e.writeMu.Lock()
			_, err := e.conn.Write(data)
			e.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// send enqueues data for the writer goroutine, dropping it if the
// outbox is full (a wedged connection is about to be torn down by the
// read loop's deadline anyway).
func (e *Endpoint) send(data []byte) {
	select {
	case e.outbox <- data:
	default:
		e.log.Warn("outbox full, dropping frame", "client_id", e.ClientID())
	}
}

func (e *Endpoint) cleanup(ctx context.Context) {
	e.setState(stateClosed)
	close(e.outboxDone)
	_ = e.conn.Close()

	if e.keepAliveToken != nil {
		e.keepAliveToken.Cancel()
	}
	if e.busCancel != nil {
		e.busCancel()
	}

	clientID := e.ClientID()
	if clientID == "" {
		return
	}
	e.deps.Registry.Unregister(clientID, e)

	destroySession := e.cleanStart || e.sessExpiry == 0
	if destroySession {
		if e.willToken == nil && e.will != nil {
			e.scheduleOrSendWill(ctx, 0)
		}
		e.deps.Subscriptions.UnsubscribeAll(clientID)
		_ = e.deps.Sessions.DeleteSession(ctx, clientID)
		if e.deps.Cluster != nil {
			_ = e.deps.Cluster.ClearNodeForClient(ctx, clientID)
		}
		return
	}

	sess := &model.Session{
		ClientID:              clientID,
		CleanStart:            e.cleanStart,
		SessionExpiryInterval: e.sessExpiry,
		ReceiveMaximum:        e.receiveMax,
		TopicAliasMaximum:     e.topicAliasMax,
		Will:                  e.will,
		WillDelayInterval:     e.willDelay,
		Connected:             false,
		NodeID:                e.deps.NodeID,
		DisconnectedAt:        time.Now(),
	}
	if err := e.deps.Sessions.SaveSession(ctx, sess); err != nil {
		e.log.Warn("session save on disconnect failed", "client_id", clientID, "error", err)
	}
	if e.will != nil {
		e.scheduleOrSendWill(ctx, e.willDelay)
	}
}
