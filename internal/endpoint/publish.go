package endpoint

import (
	"context"
	"time"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet"
)

// handlePublish processes an inbound PUBLISH: resolves topic aliases,
// authorizes against the ACL, acks per QoS, and hands the message to
// the session handler's pipeline. QoS2 publishes are deduplicated
// against the connection's qos2Received set until PUBREL arrives.
func (e *Endpoint) handlePublish(ctx context.Context, pp *packet.PublishPacket) bool {
	topic := pp.Topic
	if topic == "" && pp.Properties != nil && pp.Properties.TopicAlias != nil {
		e.mu.Lock()
		resolved, ok := "", false
		if e.inAliases != nil {
			resolved, ok = e.inAliases.Resolve(*pp.Properties.TopicAlias)
		}
		e.mu.Unlock()
		if !ok {
			e.disconnectWithReason(packet.DisconnectTopicAliasInvalid)
			return false
		}
		topic = resolved
	} else if pp.Properties != nil && pp.Properties.TopicAlias != nil && e.inAliases != nil {
		e.mu.Lock()
		ok := e.inAliases.Set(*pp.Properties.TopicAlias, topic)
		e.mu.Unlock()
		if !ok {
			e.disconnectWithReason(packet.DisconnectTopicAliasInvalid)
			return false
		}
	}

	if e.deps.ACL != nil {
		allowed, err := e.deps.ACL.Allow(ctx, e.username, topic, model.OpPublish)
		if err != nil || !allowed {
			if pp.QoS != model.QoS0 && pp.PacketID != nil {
				e.ackDenied(pp)
			}
			return true
		}
	}

	if pp.QoS == model.QoS2 && pp.PacketID != nil {
		e.mu.Lock()
		_, dup := e.qos2Received[*pp.PacketID]
		if dup {
			e.mu.Unlock()
			e.send((&packet.PubAckPacket{PacketID: *pp.PacketID}).Encode(packet.PUBREC, e.protocolLevel))
			return true
		}
		e.qos2Received[*pp.PacketID] = struct{}{}
		e.mu.Unlock()
	}

	msg := e.brokerMessageFromPublish(pp, topic)
	if err := e.deps.Dispatch.Publish(ctx, msg); err != nil {
		e.log.Warn("publish pipeline failed", "topic", topic, "error", err)
	}

	switch pp.QoS {
	case model.QoS1:
		if pp.PacketID != nil {
			e.send((&packet.PubAckPacket{PacketID: *pp.PacketID}).Encode(packet.PUBACK, e.protocolLevel))
		}
	case model.QoS2:
		if pp.PacketID != nil {
			e.send((&packet.PubAckPacket{PacketID: *pp.PacketID}).Encode(packet.PUBREC, e.protocolLevel))
		}
	}
	return true
}

func (e *Endpoint) ackDenied(pp *packet.PublishPacket) {
	reason := byte(0x87) // not authorized
	ackType := packet.PUBACK
	if pp.QoS == model.QoS2 {
		ackType = packet.PUBREC
	}
	e.send((&packet.PubAckPacket{PacketID: *pp.PacketID, ReasonCode: reason}).Encode(ackType, e.protocolLevel))
}

// handlePubrec continues an outbound QoS2 flow: move the in-flight
// entry to "awaiting PUBCOMP" and reply PUBREL.
func (e *Endpoint) handlePubrec(ctx context.Context, ap *packet.PubAckPacket) bool {
	e.mu.Lock()
	entry, ok := e.inflight[ap.PacketID]
	if ok {
		entry.awaitPubrel = true
		e.inflight[ap.PacketID] = entry
	}
	e.mu.Unlock()
	e.send((&packet.PubAckPacket{PacketID: ap.PacketID}).Encode(packet.PUBREL, e.protocolLevel))
	return true
}

// handlePubrel completes an inbound QoS2 flow: drop the dedupe entry
// and reply PUBCOMP. The message itself was already forwarded to
// subscribers when PUBREC was sent (spec.md allows this; PUBREL only
// completes the sender's own handshake).
func (e *Endpoint) handlePubrel(ctx context.Context, ap *packet.PubAckPacket) bool {
	e.mu.Lock()
	delete(e.qos2Received, ap.PacketID)
	e.mu.Unlock()
	e.send((&packet.PubAckPacket{PacketID: ap.PacketID}).Encode(packet.PUBCOMP, e.protocolLevel))
	return true
}

func (e *Endpoint) disconnectWithReason(reasonCode byte) {
	e.send((&packet.DisconnectPacket{ReasonCode: reasonCode}).Encode(e.protocolLevelSnapshot()))
	_ = e.conn.Close()
}

// brokerMessageFromPublish converts a parsed PUBLISH into the
// canonical internal message shape, carrying over every MQTT5
// property the broker round-trips.
func (e *Endpoint) brokerMessageFromPublish(pp *packet.PublishPacket, topic string) *model.BrokerMessage {
	msg := &model.BrokerMessage{
		Topic:     topic,
		Payload:   pp.Payload,
		QoS:       pp.QoS,
		Retain:    pp.Retain,
		Dup:       pp.DUP,
		OriginID:  e.ClientID(),
		CreatedAt: time.Now(),
	}
	if pp.Properties == nil {
		return msg
	}
	props := pp.Properties
	msg.PayloadFormatIndicator = props.PayloadFormatIndicator
	if props.MessageExpiryInterval != nil {
		v := int64(*props.MessageExpiryInterval)
		msg.MessageExpiryInterval = &v
	}
	msg.ContentType = props.ContentType
	msg.ResponseTopic = props.ResponseTopic
	msg.CorrelationData = props.CorrelationData
	msg.UserProperties = props.UserProperties
	return msg
}

// writePublish encodes and sends a PUBLISH for an outbound delivery,
// recomputing the MQTT5 message-expiry-interval for the time of send
// (spec.md §4.4) and allocating a fresh packet id already reserved by
// the caller.
func (e *Endpoint) writePublish(msg *model.BrokerMessage, qos model.QoS, packetID uint16, dup bool) {
	pp := &packet.PublishPacket{
		DUP:     dup,
		QoS:     qos,
		Retain:  msg.Retain,
		Topic:   msg.Topic,
		Payload: msg.Payload,
	}
	if qos != model.QoS0 {
		id := packetID
		pp.PacketID = &id
	}

	protocolLevel := e.protocolLevelSnapshot()
	if protocolLevel == 5 {
		pp.Properties = e.outboundProperties(msg)
	}
	e.send(pp.Encode(protocolLevel))
}

func (e *Endpoint) outboundProperties(msg *model.BrokerMessage) *packet.Properties {
	props := &packet.Properties{
		PayloadFormatIndicator: msg.PayloadFormatIndicator,
		ContentType:            msg.ContentType,
		ResponseTopic:          msg.ResponseTopic,
		CorrelationData:        msg.CorrelationData,
		UserProperties:         msg.UserProperties,
	}
	if msg.MessageExpiryInterval != nil {
		remaining, ok := msg.RemainingExpiry(time.Now())
		if ok && remaining > 0 {
			v := uint32(remaining)
			props.MessageExpiryInterval = &v
		}
	}
	return props
}
