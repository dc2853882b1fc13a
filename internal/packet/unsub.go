package packet

import "github.com/vogler75/monstermq/internal/packet/utils"

// UNSUBACK per-filter reason codes (MQTT5 only; 3.1.1 carries none).
const (
	UnsubackSuccess             byte = 0x00
	UnsubackNoSubscriptionExisted byte = 0x11
	UnsubackNotAuthorized       byte = 0x87
	UnsubackTopicFilterInvalid  byte = 0x8F
)

// UnsubAckPacket is the UNSUBACK sent in response to UNSUBSCRIBE.
type UnsubAckPacket struct {
	PacketID    uint16
	ReasonCodes []byte // empty under protocol level 4
	Properties  *Properties
}

func (p *UnsubAckPacket) Encode(protocolLevel byte) []byte {
	var body []byte
	body = append(body, utils.EncodePacketID(p.PacketID)...)
	if protocolLevel == 5 {
		if p.Properties != nil {
			body = append(body, p.Properties.Encode()...)
		} else {
			body = append(body, utils.EncodeVarInt(0)...)
		}
		body = append(body, p.ReasonCodes...)
	}

	out := []byte{byte(UNSUBACK)}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
