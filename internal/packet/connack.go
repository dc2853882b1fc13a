package packet

import "github.com/vogler75/monstermq/internal/packet/utils"

// CONNACK reason codes. Values 0x00-0x05 are the MQTT 3.1.1 return
// codes, shared verbatim by MQTT5; values above that are 5.0-only.
const (
	ConnectionAccepted          byte = 0x00
	UnacceptableProtocolVersion byte = 0x01
	IdentifierRejected          byte = 0x02
	ServerUnavailable           byte = 0x03
	BadUsernameOrPassword       byte = 0x04
	NotAuthorized               byte = 0x05

	ReasonMalformedPacket            byte = 0x81
	ReasonProtocolError               byte = 0x82
	ReasonImplementationSpecificError byte = 0x83
	ReasonUnsupportedProtocolVersion  byte = 0x84
	ReasonClientIdentifierNotValid    byte = 0x85
	ReasonBadUserNameOrPassword       byte = 0x86
	ReasonNotAuthorized               byte = 0x87
	ReasonServerUnavailable           byte = 0x88
	ReasonServerBusy                  byte = 0x89
	ReasonBanned                      byte = 0x8A
	ReasonBadAuthenticationMethod     byte = 0x8C
	ReasonTopicNameInvalid            byte = 0x90
	ReasonPacketTooLarge              byte = 0x95
	ReasonQuotaExceeded               byte = 0x97
	ReasonRetainNotSupported          byte = 0x9A
	ReasonQoSNotSupported             byte = 0x9B
	ReasonUseAnotherServer            byte = 0x9C
	ReasonServerMoved                 byte = 0x9D
)

// ConnAckPacket is the CONNACK sent by the server in response to
// CONNECT.
type ConnAckPacket struct {
	SessionPresent bool
	ReasonCode     byte

	// Properties is sent only for protocol level 5.
	Properties *Properties
}

// Encode serializes the CONNACK. For protocolLevel 5 it appends
// c.Properties, when set, exactly as given. The endpoint sets only
// receive-maximum and topic-alias-maximum (the values from the client's
// CONNECT, or their defaults); session-expiry, maximum-qos,
// retain-available, maximum-packet-size, server-keep-alive, the
// wildcard/shared/subscription-identifier availability flags and
// assigned-client-identifier are not sent.
func (c *ConnAckPacket) Encode(protocolLevel byte) []byte {
	flags := byte(0x00)
	if c.SessionPresent {
		flags = 0x01
	}

	var body []byte
	body = append(body, flags, c.ReasonCode)
	if protocolLevel == 5 && c.Properties != nil {
		body = append(body, c.Properties.Encode()...)
	}

	out := []byte{byte(CONNACK)}
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
