// Package utils holds the MQTT wire-format primitives shared by every
// packet type: the variable-length remaining-length field, length
// prefixed UTF-8 strings and binary data, and the fixed-width integer
// codecs. Adapted from the teacher's internal/packet/utils/encoding.go;
// topic-filter/topic-name validation moved to internal/topicindex, which
// owns topic semantics, so this package stays purely about byte layout.
package utils

import (
	"encoding/binary"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// EncodeRemainingLength encodes the remaining length field according to
// the MQTT specification. Supports up to 4 bytes (max value 268,435,455).
func EncodeRemainingLength(length int) []byte {
	if length < 0 {
		return []byte{0}
	}

	var encoded []byte
	for {
		encodedByte := byte(length % 128)
		length /= 128
		if length > 0 {
			encodedByte |= 128
		}
		encoded = append(encoded, encodedByte)
		if length == 0 || len(encoded) >= 4 {
			break
		}
	}
	return encoded
}

// ParseRemainingLength decodes the remaining length field from raw
// bytes, returning the decoded length and the number of bytes consumed.
func ParseRemainingLength(data []byte) (int, int, error) {
	var length, multiplier, offset int
	multiplier = 1
	for {
		if offset >= len(data) {
			return 0, 0, mqtterr.ErrShortBuffer
		}
		if offset >= 4 {
			return 0, 0, mqtterr.ErrRemainingLengthExceeded
		}

		encodedByte := data[offset]
		length += int(encodedByte&0x7F) * multiplier
		if length > 268435455 {
			return 0, 0, mqtterr.ErrRemainingLengthExceeded
		}

		multiplier *= 128
		offset++
		if encodedByte&0x80 == 0 {
			break
		}
	}
	return length, offset, nil
}

// EncodeVarInt/DecodeVarInt alias the remaining-length codec: the MQTT5
// property-length prefix shares the exact same variable byte format.
func EncodeVarInt(n int) []byte                  { return EncodeRemainingLength(n) }
func DecodeVarInt(data []byte) (int, int, error) { return ParseRemainingLength(data) }

// EncodeString encodes a UTF-8 string with its 2-byte length prefix.
func EncodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

// ParseString parses a UTF-8 string with a 2-byte length prefix,
// returning the string and the number of bytes consumed. Validity of
// the decoded UTF-8 is the caller's concern (topic names/filters get
// stricter checks; most other MQTT5 UTF-8 fields do not).
func ParseString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, mqtterr.ErrShortBuffer
	}
	length := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+length {
		return "", 0, mqtterr.ErrShortBuffer
	}
	return string(data[2 : 2+length]), 2 + length, nil
}

// EncodeBinary/ParseBinary encode/decode a length-prefixed opaque byte
// sequence (correlation data, authentication data).
func EncodeBinary(b []byte) []byte {
	out := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(out, uint16(len(b)))
	copy(out[2:], b)
	return out
}

func ParseBinary(data []byte) ([]byte, int, error) {
	if len(data) < 2 {
		return nil, 0, mqtterr.ErrShortBuffer
	}
	length := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+length {
		return nil, 0, mqtterr.ErrShortBuffer
	}
	out := make([]byte, length)
	copy(out, data[2:2+length])
	return out, 2 + length, nil
}

// EncodePacketID/ParsePacketID encode/decode a 16-bit packet id.
func EncodePacketID(packetID uint16) []byte {
	result := make([]byte, 2)
	binary.BigEndian.PutUint16(result, packetID)
	return result
}

func ParsePacketID(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, mqtterr.ErrShortBuffer
	}
	packetID := binary.BigEndian.Uint16(data[0:2])
	if packetID == 0 {
		return 0, mqtterr.ErrInvalidPacketID
	}
	return packetID, nil
}

// EncodeUint16/DecodeUint16 encode/decode a 2-byte big-endian integer.
func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func DecodeUint16(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, mqtterr.ErrShortBuffer
	}
	return binary.BigEndian.Uint16(data), nil
}

// EncodeUint32/DecodeUint32 encode/decode a 4-byte big-endian integer.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, mqtterr.ErrShortBuffer
	}
	return binary.BigEndian.Uint32(data), nil
}

// CalculateFixedHeaderSize returns the size in bytes of the fixed
// header (packet type byte + encoded remaining length) for a packet
// whose remaining length is remainingLength.
func CalculateFixedHeaderSize(remainingLength int) int {
	return 1 + len(EncodeRemainingLength(remainingLength))
}

// IsValidPacketID reports whether a packet id is non-zero, as MQTT
// requires for every QoS>0 PUBLISH and its acks.
func IsValidPacketID(packetID uint16) bool {
	return packetID != 0
}
