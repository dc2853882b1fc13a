package packet

import (
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/internal/topicindex"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// UnsubscribePacket is the decoded UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	PacketID     uint16
	Properties   *Properties // user-properties only
	TopicFilters []string
	Raw          []byte
}

func ParseUnsubscribe(raw []byte, protocolLevel byte) (*UnsubscribePacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != UNSUBSCRIBE {
		return nil, mqtterr.ErrInvalidPacketType
	}
	if raw[0]&0x0F != 0x02 {
		return nil, mqtterr.ErrInvalidUnsubscribeFlags
	}

	remainingLength, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	if len(raw) != 1+hdrLen+remainingLength {
		return nil, mqtterr.ErrInvalidPacketLength
	}

	up := &UnsubscribePacket{Raw: raw}
	body := raw[1+hdrLen:]

	packetID, err := utils.ParsePacketID(body)
	if err != nil {
		return nil, err
	}
	up.PacketID = packetID
	body = body[2:]

	if protocolLevel == 5 {
		props, n, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		up.Properties = props
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
		up.TopicFilters = append(up.TopicFilters, topic)
	}

	if len(up.TopicFilters) == 0 {
		return nil, mqtterr.ErrNoTopicFilters
	}
	return up, nil
}
