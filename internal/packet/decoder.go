package packet

import "github.com/vogler75/monstermq/internal/packet/utils"

// DecodeString is a thin re-export of utils.ParseString kept at the
// packet package level since several call sites historically reached
// for packet.DecodeString directly.
func DecodeString(b []byte) (string, int, error) {
	return utils.ParseString(b)
}
