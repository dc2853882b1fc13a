package endpoint

import (
	"context"
	"time"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet"
)

// authExchange tracks an in-progress SASL exchange opened by CONNECT's
// authentication-method property and continued by inbound AUTH packets
// (MQTT5 enhanced authentication, SPEC_FULL.md §4.3a). An AUTH packet
// that arrives with no exchange open closes the connection, so
// re-authentication after CONNACK is not supported. The exchange is
// torn down on completion (success folds into CONNACK/the pending
// CONNECT) or on DISCONNECT.
type authExchange struct {
	mechanismName string
	pendingCP     *packet.ConnectPacket // the CONNECT awaiting this exchange's outcome
}

// handleConnect processes the one CONNECT this connection is allowed,
// authenticating (password or SASL), resuming or creating the session,
// and replying with CONNACK. Returns false if the connection must be
// torn down.
func (e *Endpoint) handleConnect(ctx context.Context, cp *packet.ConnectPacket) bool {
	e.mu.Lock()
	e.protocolLevel = cp.ProtocolLevel
	e.keepAlive = cp.KeepAlive
	e.mu.Unlock()

	if cp.Properties != nil && cp.Properties.AuthenticationMethod != nil {
		return e.startSASL(ctx, cp)
	}

	username, ok, reason := e.authenticatePassword(ctx, cp)
	if !ok {
		e.sendConnack(false, reason, cp.ProtocolLevel)
		return false
	}
	return e.finishConnect(ctx, cp, username)
}

// authenticatePassword runs the plain username/password check CONNECT
// itself carries. A CONNECT with no username is accepted only when
// anonymous access is configured.
func (e *Endpoint) authenticatePassword(ctx context.Context, cp *packet.ConnectPacket) (string, bool, byte) {
	if cp.Username == nil {
		if e.deps.AllowAnonymous {
			return "", true, packet.ConnectionAccepted
		}
		return "", false, packet.NotAuthorized
	}
	username := *cp.Username
	password := ""
	if cp.Password != nil {
		password = string(cp.Password)
	}
	ok, err := e.deps.Users.ValidatePassword(ctx, username, password)
	if err != nil || !ok {
		return "", false, packet.BadUsernameOrPassword
	}
	return username, true, packet.ConnectionAccepted
}

func (e *Endpoint) startSASL(ctx context.Context, cp *packet.ConnectPacket) bool {
	name := *cp.Properties.AuthenticationMethod
	mech, ok := e.deps.SASL.New(name, e.deps.Users)
	if !ok {
		e.sendConnack(false, packet.BadAuthenticationMethod, cp.ProtocolLevel)
		return false
	}
	var clientData []byte
	if cp.Properties.AuthenticationData != nil {
		clientData = cp.Properties.AuthenticationData
	}
	reply, done, username, err := mech.Step(ctx, clientData)
	if err != nil {
		e.sendConnack(false, packet.NotAuthorized, cp.ProtocolLevel)
		return false
	}
	if !done {
		e.mu.Lock()
		e.authExch = &authExchange{mechanismName: name, pendingCP: cp}
		e.st = stateAuthenticating
		e.mu.Unlock()
		e.send((&packet.AuthPacket{
			ReasonCode: packet.AuthContinueAuth,
			Properties: &packet.Properties{AuthenticationMethod: &name, AuthenticationData: reply},
		}).Encode())
		return true
	}
	return e.finishConnect(ctx, cp, username)
}

// handleAuth continues a SASL exchange opened during CONNECT.
func (e *Endpoint) handleAuth(ctx context.Context, ap *packet.AuthPacket) bool {
	e.mu.Lock()
	exch := e.authExch
	e.mu.Unlock()
	if exch == nil {
		return false
	}
	mech, ok := e.deps.SASL.New(exch.mechanismName, e.deps.Users)
	if !ok {
		return false
	}
	var clientData []byte
	if ap.Properties != nil {
		clientData = ap.Properties.AuthenticationData
	}
	reply, done, username, err := mech.Step(ctx, clientData)
	if err != nil {
		if exch.pendingCP != nil {
			e.sendConnack(false, packet.NotAuthorized, exch.pendingCP.ProtocolLevel)
		}
		return false
	}
	if !done {
		name := exch.mechanismName
		e.send((&packet.AuthPacket{
			ReasonCode: packet.AuthContinueAuth,
			Properties: &packet.Properties{AuthenticationMethod: &name, AuthenticationData: reply},
		}).Encode())
		return true
	}
	e.mu.Lock()
	e.authExch = nil
	e.mu.Unlock()
	if exch.pendingCP != nil {
		return e.finishConnect(ctx, exch.pendingCP, username)
	}
	return true
}

// finishConnect resumes or creates a session, installs this endpoint
// into the registry and cluster, restores subscriptions, flushes the
// offline queue, and sends CONNACK.
func (e *Endpoint) finishConnect(ctx context.Context, cp *packet.ConnectPacket, username string) bool {
	e.mu.Lock()
	e.clientID = cp.ClientID
	e.username = username
	e.cleanStart = cp.CleanStart
	e.receiveMax = DefaultReceiveMaximum
	e.topicAliasMax = 0
	if cp.ProtocolLevel == 5 && cp.Properties != nil {
		if cp.Properties.ReceiveMaximum != nil {
			e.receiveMax = *cp.Properties.ReceiveMaximum
		}
		if cp.Properties.TopicAliasMaximum != nil {
			e.topicAliasMax = *cp.Properties.TopicAliasMaximum
			e.inAliases = model.NewTopicAliasTable(e.topicAliasMax)
		}
		if cp.Properties.SessionExpiryInterval != nil {
			e.sessExpiry = *cp.Properties.SessionExpiryInterval
		}
	}
	e.outAliases = model.NewTopicAliasTable(65535)

	if cp.WillFlag {
		will := &model.Will{
			Topic:  *cp.WillTopic,
			QoS:    model.QoS(cp.WillQoS),
			Retain: cp.WillRetain,
		}
		if cp.WillMessage != nil {
			will.Properties.Payload = cp.WillMessage
		}
		if cp.WillProperties != nil {
			applyMQTT5WillProperties(will, cp.WillProperties)
			if cp.WillProperties.WillDelayInterval != nil {
				e.willDelay = *cp.WillProperties.WillDelayInterval
			}
		}
		e.will = will
	}
	e.mu.Unlock()

	sessionPresent := false
	if !cp.CleanStart {
		if existing, ok, err := e.deps.Sessions.LoadSession(ctx, cp.ClientID); err == nil && ok && !existing.Expired(time.Now()) {
			sessionPresent = true
			if subs, err := e.deps.Sessions.LoadSubscriptions(ctx, cp.ClientID); err == nil {
				for _, s := range subs {
					_, _ = e.deps.Subscriptions.Subscribe(s)
				}
			}
		}
	} else {
		_ = e.deps.Sessions.DeleteSession(ctx, cp.ClientID)
		e.deps.Subscriptions.UnsubscribeAll(cp.ClientID)
	}

	if prev, ok := e.deps.Registry.Lookup(cp.ClientID); ok {
		if prevEp, ok := prev.(*Endpoint); ok && prevEp != e {
			prevEp.takeOver()
		}
	}
	e.deps.Registry.Register(e)
	if e.deps.Cluster != nil {
		_ = e.deps.Cluster.SetNodeForClient(ctx, cp.ClientID)
	}

	e.subscribeBus(cp.ClientID)

	e.setState(stateConnected)
	e.sendConnack(sessionPresent, packet.ConnectionAccepted, cp.ProtocolLevel)
	e.scheduleKeepAlive()
	e.releaseOneQueued(ctx)
	return true
}

// takeOver tears down a superseded connection for the same client id
// (MQTT requires the server to close any existing connection when a
// new CONNECT for the same client id arrives), per spec.md's session
// take-over rule.
func (e *Endpoint) takeOver() {
	e.send(packet.EncodePingresp()) // queued for the writer; the close below does not wait for it
	_ = e.conn.Close()
}

func (e *Endpoint) sendConnack(ok bool, reasonCode byte, protocolLevel byte) {
	ack := &packet.ConnAckPacket{SessionPresent: ok, ReasonCode: reasonCode}
	if protocolLevel == 5 {
		rm := e.receiveMax
		tam := e.topicAliasMax
		ack.Properties = &packet.Properties{ReceiveMaximum: &rm, TopicAliasMaximum: &tam}
	}
	e.send(ack.Encode(protocolLevel))
}

func (e *Endpoint) scheduleKeepAlive() {
	if e.deps.Scheduler == nil || e.keepAlive == 0 {
		return
	}
	timeout := time.Duration(float64(e.keepAlive)*1.5) * time.Second
	token := e.deps.Scheduler.After(timeout, func() {
		if e.stateSnapshot() == stateConnected {
			e.send((&packet.DisconnectPacket{ReasonCode: packet.DisconnectKeepAliveTimeout}).Encode(e.protocolLevelSnapshot()))
			_ = e.conn.Close()
		}
	})
	e.keepAliveToken = &token
}

// handleDisconnect processes a client-initiated DISCONNECT: a normal
// reason code suppresses the will message (MQTT5); any other reason,
// or no DISCONNECT at all (an ungraceful close), leaves the will
// armed for cleanup to schedule.
func (e *Endpoint) handleDisconnect(ctx context.Context, dp *packet.DisconnectPacket) {
	e.setState(stateDisconnecting)
	if dp.ReasonCode == packet.DisconnectNormal {
		e.mu.Lock()
		e.will = nil
		e.mu.Unlock()
	}
	if dp.Properties != nil && dp.Properties.SessionExpiryInterval != nil {
		e.mu.Lock()
		e.sessExpiry = *dp.Properties.SessionExpiryInterval
		e.mu.Unlock()
	}
}

// scheduleOrSendWill delivers the session's will message, either
// immediately (delay == 0) or after delay seconds via the scheduler.
func (e *Endpoint) scheduleOrSendWill(ctx context.Context, delay uint32) {
	will := e.will
	if will == nil {
		return
	}
	publish := func() {
		msg := &model.BrokerMessage{
			Topic:     will.Topic,
			Payload:   will.Properties.Payload,
			QoS:       will.QoS,
			Retain:    will.Retain,
			OriginID:  e.clientID,
			CreatedAt: time.Now(),
		}
		_ = e.deps.Dispatch.Publish(context.Background(), msg)
	}
	if delay == 0 || e.deps.Scheduler == nil {
		publish()
		return
	}
	token := e.deps.Scheduler.After(time.Duration(delay)*time.Second, publish)
	e.willToken = &token
}

func applyMQTT5WillProperties(will *model.Will, props *packet.Properties) {
	will.Properties.PayloadFormatIndicator = props.PayloadFormatIndicator
	if props.MessageExpiryInterval != nil {
		v := int64(*props.MessageExpiryInterval)
		will.Properties.MessageExpiryInterval = &v
	}
	will.Properties.ContentType = props.ContentType
	will.Properties.ResponseTopic = props.ResponseTopic
	will.Properties.CorrelationData = props.CorrelationData
	will.Properties.UserProperties = props.UserProperties
}
