package endpoint

import (
	"context"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet"
)

// handleSubscribe authorizes and installs each requested filter,
// replays matching retained messages per the filter's retain-handling
// option, persists the updated subscription set, and replies SUBACK.
func (e *Endpoint) handleSubscribe(ctx context.Context, sp *packet.SubscribePacket) bool {
	clientID := e.ClientID()
	reasonCodes := make([]byte, len(sp.Filters))

	for i, f := range sp.Filters {
		allowed := true
		if e.deps.ACL != nil {
			var err error
			allowed, err = e.deps.ACL.Allow(ctx, e.username, f.Topic, model.OpSubscribe)
			if err != nil {
				allowed = false
			}
		}
		if !allowed {
			reasonCodes[i] = packet.SubackNotAuthorized
			continue
		}

		sub := model.Subscription{
			ClientID:          clientID,
			Filter:            f.Topic,
			QoS:               f.QoS,
			NoLocal:           f.NoLocal,
			RetainHandling:    f.RetainHandling,
			RetainAsPublished: f.RetainAsPublished,
		}
		isNew, err := e.deps.Subscriptions.Subscribe(sub)
		if err != nil {
			reasonCodes[i] = packet.SubackTopicFilterInvalid
			continue
		}
		reasonCodes[i] = grantedQoSCode(f.QoS)

		if f.RetainHandling == model.RetainNeverSend {
			continue
		}
		if f.RetainHandling == model.RetainSendIfNewSub && !isNew {
			continue
		}
		e.replayRetained(ctx, f.Topic, f.QoS, f.RetainAsPublished)
	}

	if err := e.persistSubscriptions(ctx); err != nil {
		e.log.Warn("subscription persist failed", "client_id", clientID, "error", err)
	}

	ack := &packet.SubAckPacket{PacketID: sp.PacketID, ReasonCodes: reasonCodes}
	e.send(ack.Encode(e.protocolLevelSnapshot()))
	return true
}

func grantedQoSCode(qos model.QoS) byte {
	switch qos {
	case model.QoS0:
		return packet.SubackMaxQoS0
	case model.QoS1:
		return packet.SubackMaxQoS1
	default:
		return packet.SubackMaxQoS2
	}
}

func (e *Endpoint) replayRetained(ctx context.Context, filter string, subQoS model.QoS, retainAsPublished bool) {
	matches, err := e.deps.Retained.Match(ctx, filter)
	if err != nil {
		return
	}
	for _, msg := range matches {
		out := msg
		if !retainAsPublished {
			out = msg.Clone()
			out.Retain = false
		}
		qos := model.MinQoS(msg.QoS, subQoS)
		packetID, ok := uint16(0), true
		if qos > model.QoS0 {
			packetID, ok = e.reserveInFlight(qos, false, 0)
		}
		if !ok {
			continue
		}
		e.writePublish(out, qos, packetID, false)
	}
}

func (e *Endpoint) persistSubscriptions(ctx context.Context) error {
	clientID := e.ClientID()
	if clientID == "" || e.sessExpiry == 0 {
		return nil
	}
	subs := e.deps.Subscriptions.ForClient(clientID)
	return e.deps.Sessions.SaveSubscriptions(ctx, clientID, subs)
}

// handleUnsubscribe removes each named filter and replies UNSUBACK.
func (e *Endpoint) handleUnsubscribe(ctx context.Context, up *packet.UnsubscribePacket) bool {
	clientID := e.ClientID()
	reasonCodes := make([]byte, len(up.TopicFilters))
	for i, filter := range up.TopicFilters {
		if e.deps.Subscriptions.Unsubscribe(clientID, filter) {
			reasonCodes[i] = packet.UnsubackSuccess
		} else {
			reasonCodes[i] = packet.UnsubackNoSubscriptionExisted
		}
	}
	if err := e.persistSubscriptions(ctx); err != nil {
		e.log.Warn("subscription persist failed", "client_id", clientID, "error", err)
	}
	ack := &packet.UnsubAckPacket{PacketID: up.PacketID, ReasonCodes: reasonCodes}
	e.send(ack.Encode(e.protocolLevelSnapshot()))
	return true
}
