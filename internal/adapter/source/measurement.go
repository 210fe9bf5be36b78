package source

import (
	"encoding/binary"
	"fmt"

	"heartbridge/internal/domain"
)

// ParseHeartRateMeasurement decodes a GATT Heart Rate Measurement
// characteristic value (0x2A37). Flag bit 0 selects the value width:
// 0 = uint8, 1 = little-endian uint16.
func ParseHeartRateMeasurement(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("%w: measurement too short (%d bytes)", domain.ErrInvalidReading, len(buf))
	}

	if buf[0]&0x01 == 0 {
		return int(buf[1]), nil
	}
	if len(buf) < 3 {
		return 0, fmt.Errorf("%w: uint16 measurement truncated", domain.ErrInvalidReading)
	}
	return int(binary.LittleEndian.Uint16(buf[1:3])), nil
}
