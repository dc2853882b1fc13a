package packet

import "github.com/vogler75/monstermq/pkg/mqtterr"

// ParsePingreq validates a PINGREQ: type, flags and remaining length
// are all fixed, so there is nothing to extract.
func ParsePingreq(raw []byte) error {
	if len(raw) != 2 {
		return mqtterr.ErrInvalidPacketLength
	}
	if PacketType(raw[0]&typeMask) != PINGREQ || raw[0]&0x0F != 0x00 {
		return mqtterr.ErrInvalidPacketType
	}
	if raw[1] != 0x00 {
		return mqtterr.ErrInvalidPacketLength
	}
	return nil
}

// EncodePingresp returns the fixed 2-byte PINGRESP frame.
func EncodePingresp() []byte {
	return []byte{byte(PINGRESP), 0x00}
}
