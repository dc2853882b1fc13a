package packet

import (
	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// Property identifiers, MQTT5 section 2.2.2.2.
const (
	PropPayloadFormatIndicator     byte = 0x01
	PropMessageExpiryInterval      byte = 0x02
	PropContentType                byte = 0x03
	PropResponseTopic              byte = 0x08
	PropCorrelationData            byte = 0x09
	PropSubscriptionIdentifier     byte = 0x0B
	PropSessionExpiryInterval      byte = 0x11
	PropAssignedClientIdentifier   byte = 0x12
	PropServerKeepAlive            byte = 0x13
	PropAuthenticationMethod       byte = 0x15
	PropAuthenticationData         byte = 0x16
	PropRequestProblemInformation  byte = 0x17
	PropWillDelayInterval          byte = 0x18
	PropRequestResponseInformation byte = 0x19
	PropResponseInformation        byte = 0x1A
	PropServerReference            byte = 0x1C
	PropReasonString               byte = 0x1F
	PropReceiveMaximum             byte = 0x21
	PropTopicAliasMaximum          byte = 0x22
	PropTopicAlias                 byte = 0x23
	PropMaximumQoS                 byte = 0x24
	PropRetainAvailable            byte = 0x25
	PropUserProperty               byte = 0x26
	PropMaximumPacketSize          byte = 0x27
	PropWildcardSubAvailable       byte = 0x28
	PropSubIDAvailable             byte = 0x29
	PropSharedSubAvailable         byte = 0x2A
)

// Properties is the decoded form of an MQTT5 property list. Only the
// fields relevant to the packets this broker parses/emits are modeled;
// unknown property identifiers encountered while decoding are rejected
// per spec (a malformed packet), matching the protocol's intent that
// property identifiers are a closed set per packet type.
type Properties struct {
	PayloadFormatIndicator     *byte
	MessageExpiryInterval      *uint32
	ContentType                *string
	ResponseTopic              *string
	CorrelationData            []byte
	SubscriptionIdentifier     *int
	SessionExpiryInterval      *uint32
	AssignedClientIdentifier   *string
	ServerKeepAlive            *uint16
	AuthenticationMethod       *string
	AuthenticationData         []byte
	RequestProblemInformation  *byte
	WillDelayInterval          *uint32
	RequestResponseInformation *byte
	ResponseInformation        *string
	ServerReference            *string
	ReasonString               *string
	ReceiveMaximum             *uint16
	TopicAliasMaximum          *uint16
	TopicAlias                 *uint16
	MaximumQoS                 *byte
	RetainAvailable            *byte
	UserProperties             []model.UserProperty
	MaximumPacketSize          *uint32
	WildcardSubAvailable       *byte
	SubIDAvailable             *byte
	SharedSubAvailable         *byte
}

// Encode serializes the property list as a variable-byte length prefix
// followed by the properties themselves, in the order they are set
// above. Order among distinct property ids is not significant to the
// spec; user properties preserve insertion order among themselves,
// which matters since duplicates are semantically distinct entries.
func (p *Properties) Encode() []byte {
	var body []byte

	if p.PayloadFormatIndicator != nil {
		body = append(body, PropPayloadFormatIndicator, *p.PayloadFormatIndicator)
	}
	if p.MessageExpiryInterval != nil {
		body = append(body, PropMessageExpiryInterval)
		body = append(body, utils.EncodeUint32(*p.MessageExpiryInterval)...)
	}
	if p.ContentType != nil {
		body = append(body, PropContentType)
		body = append(body, utils.EncodeString(*p.ContentType)...)
	}
	if p.ResponseTopic != nil {
		body = append(body, PropResponseTopic)
		body = append(body, utils.EncodeString(*p.ResponseTopic)...)
	}
	if p.CorrelationData != nil {
		body = append(body, PropCorrelationData)
		body = append(body, utils.EncodeBinary(p.CorrelationData)...)
	}
	if p.SubscriptionIdentifier != nil {
		body = append(body, PropSubscriptionIdentifier)
		body = append(body, utils.EncodeVarInt(*p.SubscriptionIdentifier)...)
	}
	if p.SessionExpiryInterval != nil {
		body = append(body, PropSessionExpiryInterval)
		body = append(body, utils.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.AssignedClientIdentifier != nil {
		body = append(body, PropAssignedClientIdentifier)
		body = append(body, utils.EncodeString(*p.AssignedClientIdentifier)...)
	}
	if p.ServerKeepAlive != nil {
		body = append(body, PropServerKeepAlive)
		body = append(body, utils.EncodeUint16(*p.ServerKeepAlive)...)
	}
	if p.AuthenticationMethod != nil {
		body = append(body, PropAuthenticationMethod)
		body = append(body, utils.EncodeString(*p.AuthenticationMethod)...)
	}
	if p.AuthenticationData != nil {
		body = append(body, PropAuthenticationData)
		body = append(body, utils.EncodeBinary(p.AuthenticationData)...)
	}
	if p.RequestProblemInformation != nil {
		body = append(body, PropRequestProblemInformation, *p.RequestProblemInformation)
	}
	if p.WillDelayInterval != nil {
		body = append(body, PropWillDelayInterval)
		body = append(body, utils.EncodeUint32(*p.WillDelayInterval)...)
	}
	if p.RequestResponseInformation != nil {
		body = append(body, PropRequestResponseInformation, *p.RequestResponseInformation)
	}
	if p.ResponseInformation != nil {
		body = append(body, PropResponseInformation)
		body = append(body, utils.EncodeString(*p.ResponseInformation)...)
	}
	if p.ServerReference != nil {
		body = append(body, PropServerReference)
		body = append(body, utils.EncodeString(*p.ServerReference)...)
	}
	if p.ReasonString != nil {
		body = append(body, PropReasonString)
		body = append(body, utils.EncodeString(*p.ReasonString)...)
	}
	if p.ReceiveMaximum != nil {
		body = append(body, PropReceiveMaximum)
		body = append(body, utils.EncodeUint16(*p.ReceiveMaximum)...)
	}
	if p.TopicAliasMaximum != nil {
		body = append(body, PropTopicAliasMaximum)
		body = append(body, utils.EncodeUint16(*p.TopicAliasMaximum)...)
	}
	if p.TopicAlias != nil {
		body = append(body, PropTopicAlias)
		body = append(body, utils.EncodeUint16(*p.TopicAlias)...)
	}
	if p.MaximumQoS != nil {
		body = append(body, PropMaximumQoS, *p.MaximumQoS)
	}
	if p.RetainAvailable != nil {
		body = append(body, PropRetainAvailable, *p.RetainAvailable)
	}
	for _, up := range p.UserProperties {
		body = append(body, PropUserProperty)
		body = append(body, utils.EncodeString(up.Key)...)
		body = append(body, utils.EncodeString(up.Value)...)
	}
	if p.MaximumPacketSize != nil {
		body = append(body, PropMaximumPacketSize)
		body = append(body, utils.EncodeUint32(*p.MaximumPacketSize)...)
	}
	if p.WildcardSubAvailable != nil {
		body = append(body, PropWildcardSubAvailable, *p.WildcardSubAvailable)
	}
	if p.SubIDAvailable != nil {
		body = append(body, PropSubIDAvailable, *p.SubIDAvailable)
	}
	if p.SharedSubAvailable != nil {
		body = append(body, PropSharedSubAvailable, *p.SharedSubAvailable)
	}

	out := utils.EncodeVarInt(len(body))
	return append(out, body...)
}

// DecodeProperties reads a variable-byte length prefix followed by that
// many bytes of properties, returning the decoded list and the total
// number of bytes consumed (prefix included).
func DecodeProperties(data []byte) (*Properties, int, error) {
	length, prefixLen, err := utils.DecodeVarInt(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < prefixLen+length {
		return nil, 0, mqtterr.ErrShortBuffer
	}

	p := &Properties{}
	body := data[prefixLen : prefixLen+length]
	pos := 0
	for pos < len(body) {
		id := body[pos]
		pos++
		switch id {
		case PropPayloadFormatIndicator:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.PayloadFormatIndicator = &v
			pos++
		case PropMessageExpiryInterval:
			v, err := utils.DecodeUint32(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.MessageExpiryInterval = &v
			pos += 4
		case PropContentType:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ContentType = &s
			pos += n
		case PropResponseTopic:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ResponseTopic = &s
			pos += n
		case PropCorrelationData:
			b, n, err := utils.ParseBinary(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.CorrelationData = b
			pos += n
		case PropSubscriptionIdentifier:
			v, n, err := utils.DecodeVarInt(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.SubscriptionIdentifier = &v
			pos += n
		case PropSessionExpiryInterval:
			v, err := utils.DecodeUint32(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.SessionExpiryInterval = &v
			pos += 4
		case PropAssignedClientIdentifier:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.AssignedClientIdentifier = &s
			pos += n
		case PropServerKeepAlive:
			v, err := utils.DecodeUint16(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ServerKeepAlive = &v
			pos += 2
		case PropAuthenticationMethod:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.AuthenticationMethod = &s
			pos += n
		case PropAuthenticationData:
			b, n, err := utils.ParseBinary(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.AuthenticationData = b
			pos += n
		case PropRequestProblemInformation:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.RequestProblemInformation = &v
			pos++
		case PropWillDelayInterval:
			v, err := utils.DecodeUint32(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.WillDelayInterval = &v
			pos += 4
		case PropRequestResponseInformation:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.RequestResponseInformation = &v
			pos++
		case PropResponseInformation:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ResponseInformation = &s
			pos += n
		case PropServerReference:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ServerReference = &s
			pos += n
		case PropReasonString:
			s, n, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ReasonString = &s
			pos += n
		case PropReceiveMaximum:
			v, err := utils.DecodeUint16(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.ReceiveMaximum = &v
			pos += 2
		case PropTopicAliasMaximum:
			v, err := utils.DecodeUint16(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.TopicAliasMaximum = &v
			pos += 2
		case PropTopicAlias:
			v, err := utils.DecodeUint16(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.TopicAlias = &v
			pos += 2
		case PropMaximumQoS:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.MaximumQoS = &v
			pos++
		case PropRetainAvailable:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.RetainAvailable = &v
			pos++
		case PropUserProperty:
			k, n1, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n1
			v, n2, err := utils.ParseString(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n2
			p.UserProperties = append(p.UserProperties, model.UserProperty{Key: k, Value: v})
		case PropMaximumPacketSize:
			v, err := utils.DecodeUint32(body[pos:])
			if err != nil {
				return nil, 0, err
			}
			p.MaximumPacketSize = &v
			pos += 4
		case PropWildcardSubAvailable:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.WildcardSubAvailable = &v
			pos++
		case PropSubIDAvailable:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.SubIDAvailable = &v
			pos++
		case PropSharedSubAvailable:
			if pos >= len(body) {
				return nil, 0, mqtterr.ErrShortBuffer
			}
			v := body[pos]
			p.SharedSubAvailable = &v
			pos++
		default:
			return nil, 0, mqtterr.ErrMalformedProperty
		}
	}

	return p, prefixLen + length, nil
}
