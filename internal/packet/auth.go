package packet

import (
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// AUTH reason codes (MQTT5 section 3.15.2.1).
const (
	AuthSuccess          byte = 0x00
	AuthContinueAuth     byte = 0x18
	AuthReAuthenticate   byte = 0x19
)

// AuthPacket is the MQTT5 AUTH packet, used to carry a SASL
// challenge-response exchange beyond the single authentication-method
// and authentication-data properties CONNECT can hold. There is no
// 3.1.1 equivalent; this type is only ever produced/consumed when the
// connection's protocol level is 5.
type AuthPacket struct {
	ReasonCode byte
	Properties *Properties // authentication-method/data, reason-string
}

func ParseAuth(raw []byte) (*AuthPacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != AUTH {
		return nil, mqtterr.ErrInvalidPacketType
	}

	remainingLength, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	ap := &AuthPacket{ReasonCode: AuthSuccess}
	if remainingLength == 0 {
		return ap, nil
	}

	body := raw[1+hdrLen:]
	ap.ReasonCode = body[0]
	body = body[1:]
	if len(body) > 0 {
		props, _, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		ap.Properties = props
	}
	return ap, nil
}

func (ap *AuthPacket) Encode() []byte {
	var body []byte
	body = append(body, ap.ReasonCode)
	if ap.Properties != nil {
		body = append(body, ap.Properties.Encode()...)
	} else {
		body = append(body, utils.EncodeVarInt(0)...)
	}

	out := []byte{byte(AUTH)}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
