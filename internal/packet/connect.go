package packet

import (
	"errors"

	"github.com/google/uuid"
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// ConnectPacket is the decoded CONNECT variable header and payload,
// adapted from the teacher's v3.1.1-only ConnectPacket to also carry
// MQTT5 properties and the will's own property set.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte // 4 = 3.1.1, 5 = 5.0

	UsernameFlag bool
	PasswordFlag bool
	WillRetain   bool
	WillQoS      byte
	WillFlag     bool
	CleanStart   bool
	KeepAlive    uint16

	ClientID    string
	WillTopic   *string
	WillMessage []byte
	Username    *string
	Password    []byte

	// Properties is nil for protocol level 4.
	Properties     *Properties
	WillProperties *Properties
}

// ParseConnect decodes a CONNECT packet's raw bytes, including the
// fixed header. When the client supplies an empty client id (with
// clean-start set), ParseConnect substitutes a random UUID, mirroring
// the teacher's server-assignment behavior.
func ParseConnect(raw []byte) (*ConnectPacket, error) {
	if len(raw) < 2 || PacketType(raw[0]&typeMask) != CONNECT {
		return nil, mqtterr.ErrInvalidPacketType
	}

	_, hdrLen, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	body := raw[1+hdrLen:]

	cp := &ConnectPacket{}

	name, n, err := utils.ParseString(body)
	if err != nil {
		return nil, err
	}
	cp.ProtocolName = name
	body = body[n:]

	if len(body) < 1 {
		return nil, mqtterr.ErrShortBuffer
	}
	cp.ProtocolLevel = body[0]
	body = body[1:]

	if cp.ProtocolName != "MQTT" && cp.ProtocolName != "MQIsdp" {
		return nil, mqtterr.ErrUnsupportedProtocolName
	}
	if cp.ProtocolLevel != 3 && cp.ProtocolLevel != 4 && cp.ProtocolLevel != 5 {
		return nil, mqtterr.ErrUnsupportedProtocolLevel
	}

	if len(body) < 1 {
		return nil, mqtterr.ErrShortBuffer
	}
	flags := body[0]
	body = body[1:]

	cp.UsernameFlag = flags&0x80 != 0
	cp.PasswordFlag = flags&0x40 != 0
	cp.WillRetain = flags&0x20 != 0
	cp.WillQoS = (flags & 0x18) >> 3
	cp.WillFlag = flags&0x04 != 0
	cp.CleanStart = flags&0x02 != 0

	if cp.WillFlag && cp.WillQoS > 2 {
		return nil, mqtterr.ErrInvalidWillQos
	}

	keepAlive, err := utils.DecodeUint16(body)
	if err != nil {
		return nil, err
	}
	cp.KeepAlive = keepAlive
	body = body[2:]

	if cp.ProtocolLevel == 5 {
		props, n, err := DecodeProperties(body)
		if err != nil {
			return nil, err
		}
		cp.Properties = props
		body = body[n:]
	}

	clientID, n, err := utils.ParseString(body)
	if err != nil {
		return nil, err
	}
	cp.ClientID = clientID
	body = body[n:]

	if err := cp.validateClientID(); err != nil {
		if errors.Is(err, mqtterr.ErrEmptyClientID) {
			cp.ClientID = uuid.NewString()
		} else {
			return nil, err
		}
	}

	if cp.WillFlag {
		if cp.ProtocolLevel == 5 {
			props, n, err := DecodeProperties(body)
			if err != nil {
				return nil, err
			}
			cp.WillProperties = props
			body = body[n:]
		}

		topic, n, err := utils.ParseString(body)
		if err != nil {
			return nil, err
		}
		cp.WillTopic = &topic
		body = body[n:]

		payload, n, err := utils.ParseBinary(body)
		if err != nil {
			return nil, err
		}
		cp.WillMessage = payload
		body = body[n:]
	}

	if !cp.UsernameFlag && cp.PasswordFlag {
		return nil, mqtterr.ErrPasswordWithoutUsername
	}

	if cp.UsernameFlag {
		username, n, err := utils.ParseString(body)
		if err != nil {
			return nil, mqtterr.ErrMalformedUsernameField
		}
		cp.Username = &username
		body = body[n:]
	}

	if cp.PasswordFlag {
		password, n, err := utils.ParseBinary(body)
		if err != nil {
			return nil, mqtterr.ErrMalformedPasswordField
		}
		cp.Password = password
		body = body[n:]
	}

	return cp, nil
}

// validateClientID enforces the one rule common to every protocol
// level: an empty client id requires clean-start/clean-session set, in
// which case the server assigns one (ErrEmptyClientID signals this to
// the caller, it is not a fatal error). Unlike MQTT 3.1.1's formal
// grammar, this broker accepts any client id that fits the string
// field's 65535-byte limit, without checking its characters, rather
// than restricting to the 23-character alphanumeric
// grammar most brokers have long since relaxed in practice.
func (cp *ConnectPacket) validateClientID() error {
	if len(cp.ClientID) == 0 {
		if !cp.CleanStart {
			return mqtterr.ErrEmptyAndCleanSessionClientID
		}
		return mqtterr.ErrEmptyClientID
	}
	if len(cp.ClientID) > 65535 {
		return mqtterr.ErrClientIDLengthExceed
	}
	return nil
}
