package packet

import (
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/internal/topicindex"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// MaxPayloadSize is the largest remaining length MQTT's variable byte
// integer can encode (4 bytes of 7 value bits each): 256MB - 1.
const MaxPayloadSize = 268435455

// PublishPacket is the decoded PUBLISH packet. TopicAlias, when
// non-nil, came from an MQTT5 topic-alias property; Topic may then be
// empty pending resolution against the connection's alias table, which
// the endpoint (not this package) performs, since it owns that state.
type PublishPacket struct {
	DUP    bool
	QoS    model.QoS
	Retain bool

	Topic    string
	PacketID *uint16

	Properties *Properties
	Payload    []byte

	Raw []byte
}

// ParsePublish decodes a PUBLISH packet; protocolLevel distinguishes
// MQTT5 property parsing (level 5) from the bare v3.1.1 layout.
func ParsePublish(raw []byte, protocolLevel byte) (*PublishPacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != PUBLISH {
		return nil, mqtterr.ErrInvalidPacketType
	}

	remainingLength, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+hdrLen+remainingLength {
		return nil, mqtterr.ErrInvalidPacketLength
	}

	pp := &PublishPacket{Raw: raw}
	fixedHeader := raw[0]
	pp.DUP = fixedHeader&0x08 != 0
	pp.QoS = model.QoS((fixedHeader & 0x06) >> 1)
	pp.Retain = fixedHeader&0x01 != 0

	if pp.QoS > model.QoS2 {
		return nil, mqtterr.ErrInvalidQoSLevel
	}
	if pp.DUP && pp.QoS == model.QoS0 {
		return nil, mqtterr.ErrInvalidDUPFlag
	}

	body := raw[1+hdrLen:]

	topic, n, err := utils.ParseString(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]

	// Topic may legally be empty here only under MQTT5 topic-alias
	// resolution; v3.1.1 requires a non-empty, wildcard-free topic.
	if protocolLevel != 5 || topic != "" {
		if err := topicindex.IsValidTopicName(topic); err != nil {
			return nil, err
		}
	}
	pp.Topic = topic

	if pp.QoS != model.QoS0 {
		if len(body) < 2 {
			return nil, mqtterr.ErrMissingPacketID
		}
		packetID, err := utils.ParsePacketID(body)
		if err != nil {
			return nil, err
		}
		pp.PacketID = &packetID
		body = body[2:]
	}

	if protocolLevel == 5 {
		props, n, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		pp.Properties = props
		body = body[n:]
	}

	if len(body) > MaxPayloadSize {
		return nil, mqtterr.ErrPayloadTooLarge
	}
	pp.Payload = append([]byte(nil), body...)

	return pp, nil
}

// Encode serializes the PUBLISH for delivery to protocolLevel.
func (pp *PublishPacket) Encode(protocolLevel byte) []byte {
	firstByte := byte(PUBLISH)
	if pp.DUP {
		firstByte |= 0x08
	}
	firstByte |= byte(pp.QoS) << 1
	if pp.Retain {
		firstByte |= 0x01
	}

	var body []byte
	body = append(body, utils.EncodeString(pp.Topic)...)
	if pp.QoS != model.QoS0 && pp.PacketID != nil {
		body = append(body, utils.EncodePacketID(*pp.PacketID)...)
	}
	if protocolLevel == 5 {
		if pp.Properties != nil {
			body = append(body, pp.Properties.Encode()...)
		} else {
			body = append(body, utils.EncodeVarInt(0)...)
		}
	}
	body = append(body, pp.Payload...)

	out := []byte{firstByte}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
