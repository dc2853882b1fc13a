package packet

import "github.com/vogler75/monstermq/internal/packet/utils"

// Reason codes shared by PUBACK/PUBREC/PUBREL/PUBCOMP (MQTT5 only;
// v3.1.1 acks carry no reason byte at all).
const (
	ReasonSuccess                byte = 0x00
	ReasonNoMatchingSubscribers  byte = 0x10
	ReasonUnspecifiedError       byte = 0x80
	ReasonImplSpecificError      byte = 0x83
	ReasonPacketIdentInUse       byte = 0x91
	ReasonPacketIdentNotFound    byte = 0x92
	ReasonQuotaExceeded          byte = 0x97
	ReasonPayloadFormatInvalid   byte = 0x99
)

// PubAckPacket is the shared shape of PUBACK, PUBREC, PUBREL and
// PUBCOMP: a packet id plus, for MQTT5, a reason code and property
// list. Consolidated from the teacher's separate (and, in pub.go,
// duplicated) per-type constructors into one type parameterized by
// PacketType, since all four have an identical wire layout.
type PubAckPacket struct {
	PacketID   uint16
	ReasonCode byte
	Properties *Properties
}

// Encode serializes the ack as packetType. For protocol level < 5, or
// when the reason code is success and there are no properties, MQTT
// allows (and the broker always emits) the minimal 2-byte-payload form.
func (p *PubAckPacket) Encode(packetType PacketType, protocolLevel byte) []byte {
	var body []byte
	body = append(body, utils.EncodePacketID(p.PacketID)...)

	if protocolLevel == 5 && (p.ReasonCode != ReasonSuccess || p.Properties != nil) {
		body = append(body, p.ReasonCode)
		if p.Properties != nil {
			body = append(body, p.Properties.Encode()...)
		} else {
			body = append(body, utils.EncodeVarInt(0)...)
		}
	}

	flags := byte(0)
	if packetType == PUBREL {
		flags = 0x02 // reserved bits fixed at 0b0010 per spec
	}

	out := []byte{byte(packetType) | flags}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

// ParsePubAck decodes a PUBACK/PUBREC/PUBREL/PUBCOMP body (the packet
// type has already been read from the fixed header by the caller).
func ParsePubAck(raw []byte, protocolLevel byte) (*PubAckPacket, error) {
	_, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	body := raw[1+hdrLen:]

	packetID, err := utils.ParsePacketID(body)
	if err != nil {
		return nil, err
	}
	p := &PubAckPacket{PacketID: packetID, ReasonCode: ReasonSuccess}
	body = body[2:]

	if protocolLevel == 5 && len(body) > 0 {
		p.ReasonCode = body[0]
		body = body[1:]
		if len(body) > 0 {
			props, _, err := DecodeProperties(body)
			if err != nil {
				return nil, err
			}
			p.Properties = props
		}
	}

	return p, nil
}
