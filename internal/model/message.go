// Package model holds the canonical domain types shared across the
// broker: messages, subscriptions, sessions, queued messages, retained
// messages, users and ACL rules, and the per-connection topic alias
// table. These are plain value types; behavior lives in the packages
// that operate on them (topicindex, subscription, dispatch, endpoint).
package model

import "time"

// QoS is the MQTT quality-of-service level.
type QoS byte

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
	QoS2 QoS = 2
)

// MinQoS returns the lesser of two QoS levels, used when computing the
// effective outbound QoS for a subscriber (min(message.qos, sub.qos)).
func MinQoS(a, b QoS) QoS {
	if a < b {
		return a
	}
	return b
}

// UserProperty is one entry of an MQTT5 user-property list. Order and
// duplicates are significant, so this is carried as a slice, never a map.
type UserProperty struct {
	Key   string
	Value string
}

// NoExpiry is the persisted-form sentinel meaning "no message-expiry-interval
// was set". Internally this is represented as a nil *int64 on BrokerMessage;
// stores translate to/from this sentinel at their boundary.
const NoExpiry int64 = -1

// BrokerMessage is the canonical internal representation of a published
// message, after MQTT5 topic-alias resolution. PacketID is reassigned
// per subscriber for QoS>0 deliveries and is therefore not part of the
// message's own identity.
type BrokerMessage struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	Retain    bool
	Dup       bool
	OriginID  string
	CreatedAt time.Time

	// MQTT5 properties, all optional.
	PayloadFormatIndicator *byte // 0 or 1
	MessageExpiryInterval  *int64 // seconds; nil = no expiry
	ContentType            *string
	ResponseTopic          *string
	CorrelationData        []byte
	UserProperties         []UserProperty
}

// Clone returns a deep copy, preserving every MQTT5 property. Used when
// a per-recipient transform (clearing retain, recomputing expiry) must
// not mutate the shared published message.
func (m *BrokerMessage) Clone() *BrokerMessage {
	if m == nil {
		return nil
	}
	c := *m
	if len(m.Payload) > 0 {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.PayloadFormatIndicator != nil {
		v := *m.PayloadFormatIndicator
		c.PayloadFormatIndicator = &v
	}
	if m.MessageExpiryInterval != nil {
		v := *m.MessageExpiryInterval
		c.MessageExpiryInterval = &v
	}
	if m.ContentType != nil {
		v := *m.ContentType
		c.ContentType = &v
	}
	if m.ResponseTopic != nil {
		v := *m.ResponseTopic
		c.ResponseTopic = &v
	}
	if len(m.CorrelationData) > 0 {
		c.CorrelationData = append([]byte(nil), m.CorrelationData...)
	}
	if len(m.UserProperties) > 0 {
		c.UserProperties = append([]UserProperty(nil), m.UserProperties...)
	}
	return &c
}

// RemainingExpiry computes the MQTT5 message-expiry-interval to place on
// an outbound delivery at time "at", given the message's original
// interval and creation time: max(0, original - floor((at-created)/1s)).
// ok is false when the message carried no expiry interval at all.
func (m *BrokerMessage) RemainingExpiry(at time.Time) (remaining int64, ok bool) {
	if m.MessageExpiryInterval == nil {
		return 0, false
	}
	elapsed := int64(at.Sub(m.CreatedAt) / time.Second)
	remaining = *m.MessageExpiryInterval - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Expired reports whether the message is past its expiry at time "at".
func (m *BrokerMessage) Expired(at time.Time) bool {
	if m.MessageExpiryInterval == nil {
		return false
	}
	elapsed := int64(at.Sub(m.CreatedAt) / time.Second)
	return elapsed >= *m.MessageExpiryInterval
}
