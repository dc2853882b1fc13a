package packet

import (
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// DISCONNECT reason codes (MQTT5; 3.1.1 disconnect carries none).
const (
	DisconnectNormal                 byte = 0x00
	DisconnectWillMessage             byte = 0x04
	DisconnectUnspecifiedError        byte = 0x80
	DisconnectMalformedPacket         byte = 0x81
	DisconnectProtocolError           byte = 0x82
	DisconnectNotAuthorized           byte = 0x87
	DisconnectServerBusy              byte = 0x89
	DisconnectServerShuttingDown      byte = 0x8B
	DisconnectKeepAliveTimeout        byte = 0x8D
	DisconnectSessionTakenOver        byte = 0x8E
	DisconnectTopicFilterInvalid      byte = 0x8F
	DisconnectTopicNameInvalid        byte = 0x90
	DisconnectReceiveMaximumExceeded  byte = 0x93
	DisconnectTopicAliasInvalid       byte = 0x94
	DisconnectPacketTooLarge          byte = 0x95
	DisconnectMessageRateTooHigh      byte = 0x96
	DisconnectQuotaExceeded           byte = 0x97
	DisconnectAdministrativeAction    byte = 0x98
	DisconnectPacketIDInUse           byte = 0xA1
)

// DisconnectPacket is the decoded DISCONNECT packet. For protocol
// level 4, ReasonCode is always DisconnectNormal since the 3.1.1
// DISCONNECT carries no variable header.
type DisconnectPacket struct {
	ReasonCode byte
	Properties *Properties // session-expiry-interval, reason-string
}

func ParseDisconnect(raw []byte, protocolLevel byte) (*DisconnectPacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != DISCONNECT {
		return nil, mqtterr.ErrInvalidPacketType
	}

	remainingLength, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	dp := &DisconnectPacket{ReasonCode: DisconnectNormal}
	if protocolLevel != 5 || remainingLength == 0 {
		return dp, nil
	}

	body := raw[1+hdrLen:]
	dp.ReasonCode = body[0]
	body = body[1:]
	if len(body) > 0 {
		props, _, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		dp.Properties = props
	}
	return dp, nil
}

func (dp *DisconnectPacket) Encode(protocolLevel byte) []byte {
	var body []byte
	if protocolLevel == 5 && (dp.ReasonCode != DisconnectNormal || dp.Properties != nil) {
		body = append(body, dp.ReasonCode)
		if dp.Properties != nil {
			body = append(body, dp.Properties.Encode()...)
		}
	}
	out := []byte{byte(DISCONNECT)}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
