// Package packet implements the MQTT 3.1.1 and 5.0 wire codec: fixed
// header framing, the per-type variable header/payload layouts, and the
// MQTT5 property list. Adapted from the teacher's internal/packet,
// generalized from a v3.1.1-only, mostly-encode-side codec into a
// version-aware codec that both parses and encodes every packet type
// this broker needs.
package packet

import (
	"bufio"
	"io"

	"github.com/vogler75/monstermq/internal/packet/utils"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// PacketType is the MQTT control packet type, the top nibble of the
// fixed header's first byte.
type PacketType byte

const (
	CONNECT     PacketType = 0x10
	CONNACK     PacketType = 0x20
	PUBLISH     PacketType = 0x30
	PUBACK      PacketType = 0x40
	PUBREC      PacketType = 0x50
	PUBREL      PacketType = 0x60
	PUBCOMP     PacketType = 0x70
	SUBSCRIBE   PacketType = 0x80
	SUBACK      PacketType = 0x90
	UNSUBSCRIBE PacketType = 0xA0
	UNSUBACK    PacketType = 0xB0
	PINGREQ     PacketType = 0xC0
	PINGRESP    PacketType = 0xD0
	DISCONNECT  PacketType = 0xE0
	AUTH        PacketType = 0xF0
)

// typeMask isolates the packet type nibble from the fixed header byte,
// which also carries per-type flags in its low nibble (PUBLISH's
// DUP/QoS/RETAIN bits, PUBREL/SUBSCRIBE/UNSUBSCRIBE's reserved 0x02).
const typeMask = 0xF0

// ParsedPacket is the decoded form of one MQTT control packet. At most
// one of the typed fields is non-nil, matching Type; a PINGREQ sets none.
type ParsedPacket struct {
	Type  PacketType
	Flags byte
	Raw   []byte

	Connect     *ConnectPacket
	ConnAck     *ConnAckPacket
	Publish     *PublishPacket
	PubAck      *PubAckPacket
	PubRec      *PubAckPacket
	PubRel      *PubAckPacket
	PubComp     *PubAckPacket
	Subscribe   *SubscribePacket
	SubAck      *SubAckPacket
	Unsubscribe *UnsubscribePacket
	UnsubAck    *UnsubAckPacket
	Disconnect  *DisconnectPacket
	Auth        *AuthPacket
}

// ReadFrame reads one complete raw MQTT frame (fixed header plus
// remaining-length-encoded body) from r and returns it unparsed, ready
// for Parse. Returns io.EOF only when the stream ends cleanly between
// frames; a partial frame yields io.ErrUnexpectedEOF.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	lenBuf := make([]byte, 0, 4)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		lenBuf = append(lenBuf, b)
		if b&0x80 == 0 {
			break
		}
		if len(lenBuf) >= 4 {
			return nil, mqtterr.ErrRemainingLengthExceeded
		}
	}

	remaining, _, err := utils.ParseRemainingLength(lenBuf)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 1+len(lenBuf)+remaining)
	raw[0] = first
	copy(raw[1:], lenBuf)
	if remaining > 0 {
		if _, err := io.ReadFull(r, raw[1+len(lenBuf):]); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
	return raw, nil
}
