package packet

import "github.com/vogler75/monstermq/internal/packet/utils"

// SUBACK per-filter reason codes. 0x00-0x02 double as granted QoS under
// both protocol levels; 0x80 is "failure" under 3.1.1 and is replaced
// by a more specific 5.0 reason where the broker can tell which.
const (
	SubackMaxQoS0               byte = 0x00
	SubackMaxQoS1               byte = 0x01
	SubackMaxQoS2               byte = 0x02
	SubackFailure               byte = 0x80
	SubackNotAuthorized         byte = 0x87
	SubackTopicFilterInvalid    byte = 0x8F
	SubackSharedSubNotSupported byte = 0x9E
)

// SubAckPacket is the SUBACK sent in response to SUBSCRIBE: one reason
// code per requested filter, in request order.
type SubAckPacket struct {
	PacketID    uint16
	ReasonCodes []byte
	Properties  *Properties
}

func (p *SubAckPacket) Encode(protocolLevel byte) []byte {
	var body []byte
	body = append(body, utils.EncodePacketID(p.PacketID)...)
	if protocolLevel == 5 {
		if p.Properties != nil {
			body = append(body, p.Properties.Encode()...)
		} else {
			body = append(body, utils.EncodeVarInt(0)...)
		}
	}
	body = append(body, p.ReasonCodes...)

	out := []byte{byte(SUBACK)}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
