package mpegts

import "fmt"

const (
	pidPAT  = 0x0000
	pidNull = 0x1FFF

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// patEntry is one program from the PAT.
type patEntry struct {
	program uint16
	pmtPID  uint16
}

// pmtStream is one elementary stream from a PMT.
type pmtStream struct {
	pid        uint16
	streamType byte
}

// splitSections walks a PSI payload, pointer field first, and returns
// the complete sections in it, headers and CRC included.
func splitSections(payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	offset := 1 + int(payload[0])
	var sections [][]byte
	for offset+3 <= len(payload) {
		if payload[offset] == 0xFF {
			break
		}
		length := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		end := offset + 3 + length
		if end > len(payload) {
			break
		}
		sections = append(sections, payload[offset:end])
		offset = end
	}
	return sections
}

// parsePAT extracts the program list from one PAT section. Program zero
// points at the network table and is skipped.
func parsePAT(section []byte) ([]patEntry, error) {
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT section of %d bytes is too short", len(section))
	}
	if section[0] != tableIDPAT {
		return nil, fmt.Errorf("mpegts: PAT has table id %#02x", section[0])
	}
	if mpegCRC32(section) != 0 {
		return nil, fmt.Errorf("mpegts: PAT checksum mismatch")
	}
	var entries []patEntry
	for i := 8; i+4 <= len(section)-4; i += 4 {
		program := uint16(section[i])<<8 | uint16(section[i+1])
		if program == 0 {
			continue
		}
		entries = append(entries, patEntry{
			program: program,
			pmtPID:  uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return entries, nil
}

// parsePMT extracts the elementary stream table from one PMT section.
func parsePMT(section []byte) ([]pmtStream, error) {
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT section of %d bytes is too short", len(section))
	}
	if section[0] != tableIDPMT {
		return nil, fmt.Errorf("mpegts: PMT has table id %#02x", section[0])
	}
	if mpegCRC32(section) != 0 {
		return nil, fmt.Errorf("mpegts: PMT checksum mismatch")
	}
	infoLen := int(section[10]&0x0F)<<8 | int(section[11])
	var streams []pmtStream
	for i := 12 + infoLen; i+5 <= len(section)-4; {
		esInfoLen := int(section[i+3]&0x0F)<<8 | int(section[i+4])
		streams = append(streams, pmtStream{
			pid:        uint16(section[i+1]&0x1F)<<8 | uint16(section[i+2]),
			streamType: section[i],
		})
		i += 5 + esInfoLen
	}
	return streams, nil
}
