package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSectionCRC reports a PSI section whose trailing CRC does not match.
var ErrSectionCRC = errors.New("mpegts: section CRC mismatch")

const crcPoly = 0x04C11DB7

// crcTable holds the MSB-first MPEG-2 CRC of every byte value.
var crcTable = func() (t [256]uint32) {
	for b := range t {
		crc := uint32(b) << 24
		for range 8 {
			crc = crc<<1 ^ crcPoly*(crc>>31)
		}
		t[b] = crc
	}
	return t
}()

// SectionCRC returns the MPEG-2 CRC32 of a PSI section. Over a section
// that already ends in its CRC the result is zero.
func SectionCRC(section []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range section {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// AppendSectionCRC appends the CRC of section to it.
func AppendSectionCRC(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, SectionCRC(section))
}

func checkSection(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: %d bytes leave no room for it", ErrSectionCRC, len(data))
	}
	if SectionCRC(data) != 0 {
		return ErrSectionCRC
	}
	return nil
}
