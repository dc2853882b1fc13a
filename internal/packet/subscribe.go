package packet

import (
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/internal/topicindex"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// SubscribeFilter is one topic filter entry of a SUBSCRIBE packet,
// including the MQTT5 subscription option bits. For protocol level 4
// every field but Topic and QoS stays at its zero value.
type SubscribeFilter struct {
	Topic            string
	QoS              model.QoS
	NoLocal          bool
	RetainAsPublished bool
	RetainHandling   model.RetainHandling
}

// SubscribePacket is the decoded SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID   uint16
	Properties *Properties // subscription-identifier, user-properties
	Filters    []SubscribeFilter
	Raw        []byte
}

func ParseSubscribe(raw []byte, protocolLevel byte) (*SubscribePacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != SUBSCRIBE {
		return nil, mqtterr.ErrInvalidPacketType
	}
	if raw[0]&0x0F != 0x02 {
		return nil, mqtterr.ErrInvalidSubscribeFlags
	}

	remainingLength, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+hdrLen+remainingLength {
		return nil, mqtterr.ErrInvalidPacketLength
	}

	sp := &SubscribePacket{Raw: raw}
	body := raw[1+hdrLen:]

	packetID, err := utils.ParsePacketID(body)
	if err != nil {
		return nil, err
	}
	sp.PacketID = packetID
	body = body[2:]

	if protocolLevel == 5 {
		props, n, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		sp.Properties = props
		body = body[n:]
	}

	for len(body) > 0 {
		topic, n, err := utils.ParseString(body)
		if err != nil {
			return nil, err
		}
		body = body[n:]

		if err := topicindex.IsValidTopicFilter(topic); err != nil {
			return nil, err
		}

		if len(body) == 0 {
			return nil, mqtterr.ErrMissingQoSByte
		}
		optByte := body[0]
		body = body[1:]

		filter := SubscribeFilter{Topic: topic}
		if protocolLevel == 5 {
			if optByte&0xC0 != 0 {
				return nil, mqtterr.ErrInvalidQoSReservedBits
			}
			filter.QoS = model.QoS(optByte & 0x03)
			filter.NoLocal = optByte&0x04 != 0
			filter.RetainAsPublished = optByte&0x08 != 0
			filter.RetainHandling = model.RetainHandling((optByte & 0x30) >> 4)
		} else {
			if optByte&0xFC != 0 {
				return nil, mqtterr.ErrInvalidQoSReservedBits
			}
			filter.QoS = model.QoS(optByte & 0x03)
		}
		if filter.QoS > model.QoS2 {
			return nil, mqtterr.ErrInvalidQoSLevel
		}

		sp.Filters = append(sp.Filters, filter)
	}

	if len(sp.Filters) == 0 {
		return nil, mqtterr.ErrNoTopicFilters
	}
	return sp, nil
}
