package mpegts

import "fmt"

const (
	pidPAT     = 0x0000
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// section is one complete PSI section found in a packet payload.
type section struct {
	tableID byte
	data    []byte // table_id through CRC32
}

// splitSections returns the complete sections in a payload that starts a
// PSI unit. Sections continued in later packets are not reassembled.
func splitSections(payload []byte) ([]section, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var out []section
	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF {
			break // stuffing bytes
		}
		if offset+3 > len(payload) {
			break
		}
		// section_syntax_indicator is 1 for PAT/PMT; zero padding has it clear.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			break
		}
		out = append(out, section{tableID: tableID, data: payload[offset:sectionEnd]})
		offset = sectionEnd
	}
	return out, nil
}

func parsePATSection(data []byte) (*PATData, error) {
	if err := checkSection(data); err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}

	// [0] table_id, [1-2] flags + section_length, [3-4] transport_stream_id,
	// [5] version, [6-7] section numbers, [8..N-4] programs, [N-4..N] CRC32.
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	entryEnd := min(3+sectionLength-4, len(data)-4)

	pat := &PATData{}
	for i := 8; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pmtPID := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])
		if programNumber == 0 {
			continue // NIT
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  pmtPID,
		})
	}
	return pat, nil
}

func parsePMTSection(data []byte) (*PMTData, error) {
	if err := checkSection(data); err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}

	// [3-4] program_number, [8-9] PCR_PID, [10-11] program_info_length,
	// then descriptors, elementary stream entries and CRC32.
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	sectionEnd := min(3+sectionLength, len(data))
	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength

	pmt := &PMTData{ProgramNumber: uint16(data[3])<<8 | uint16(data[4])}
	for offset+5 <= sectionEnd-4 {
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    data[offset],
			ElementaryPID: uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		})
		offset += 5 + esInfoLength
	}
	return pmt, nil
}
