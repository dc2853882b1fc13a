package packet

import "github.com/vogler75/monstermq/pkg/mqtterr"

// Parse determines the packet type from the fixed header and decodes
// the rest of the frame, protocol-version-aware wherever the 3.1.1 and
// 5.0 layouts diverge (CONNECT/PUBLISH/SUBSCRIBE/UNSUBSCRIBE property
// lists, DISCONNECT/ack reason codes). protocolLevel is 0 before
// CONNECT has been parsed, in which case only CONNECT is accepted.
func Parse(raw []byte, protocolLevel byte) (*ParsedPacket, error) {
	if len(raw) < 1 {
		return nil, mqtterr.ErrShortBuffer
	}

	packetType := PacketType(raw[0] & typeMask)
	if protocolLevel == 0 && packetType != CONNECT {
		return nil, mqtterr.ErrInvalidPacketType
	}
	result := &ParsedPacket{
		Type:  packetType,
		Flags: raw[0] & 0x0F,
		Raw:   raw,
	}

	switch packetType {
	case CONNECT:
		cp, err := ParseConnect(raw)
		if err != nil {
			return nil, err
		}
		result.Connect = cp
		return result, nil

	case PUBLISH:
		pp, err := ParsePublish(raw, protocolLevel)
		if err != nil {
			return nil, err
		}
		result.Publish = pp
		return result, nil

	case PUBACK, PUBREC, PUBREL, PUBCOMP:
		ap, err := ParsePubAck(raw, protocolLevel)
		if err != nil {
			return nil, err
		}
		switch packetType {
		case PUBACK:
			result.PubAck = ap
		case PUBREC:
			result.PubRec = ap
		case PUBREL:
			result.PubRel = ap
		case PUBCOMP:
			result.PubComp = ap
		}
		return result, nil

	case SUBSCRIBE:
		sp, err := ParseSubscribe(raw, protocolLevel)
		if err != nil {
			return nil, err
		}
		result.Subscribe = sp
		return result, nil

	case UNSUBSCRIBE:
		up, err := ParseUnsubscribe(raw, protocolLevel)
		if err != nil {
			return nil, err
		}
		result.Unsubscribe = up
		return result, nil

	case PINGREQ:
		if err := ParsePingreq(raw); err != nil {
			return nil, err
		}
		return result, nil

	case DISCONNECT:
		dp, err := ParseDisconnect(raw, protocolLevel)
		if err != nil {
			return nil, err
		}
		result.Disconnect = dp
		return result, nil

	case AUTH:
		ap, err := ParseAuth(raw)
		if err != nil {
			return nil, err
		}
		result.Auth = ap
		return result, nil

	default:
		return nil, mqtterr.ErrInvalidPacketType
	}
}
