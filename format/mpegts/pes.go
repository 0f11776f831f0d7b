package mpegts

import (
	"errors"
	"fmt"

	"github.com/mireska/weir/media"
)

var errNotPES = errors.New("mpegts: payload does not start with a PES prefix")

// pesUnit is one assembled PES packet.
type pesUnit struct {
	streamID byte
	pts      int64
	dts      int64
	data     []byte
	pos      int64
}

// hasOptionalHeader reports whether a stream id carries the optional PES
// header (ISO 13818-1 2.4.3.7). Padding, private stream 2 and the
// system streams do not.
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// assemble concatenates the payloads of one accumulated unit and
// reports the source offset of its first transport packet.
func assemble(packets []*tsPacket) ([]byte, int64) {
	size := 0
	for _, p := range packets {
		size += len(p.payload)
	}
	buf := make([]byte, 0, size)
	for _, p := range packets {
		buf = append(buf, p.payload...)
	}
	var pos int64
	if len(packets) > 0 {
		pos = packets[0].pos
	}
	return buf, pos
}

// parsePES decodes an assembled PES packet. A PES length of zero means
// the payload runs to the end of the unit, which is how video travels.
func parsePES(payload []byte, pos int64) (*pesUnit, error) {
	if len(payload) < 6 || payload[0] != 0x00 || payload[1] != 0x00 || payload[2] != 0x01 {
		return nil, errNotPES
	}
	u := &pesUnit{
		streamID: payload[3],
		pts:      media.NoPTS,
		dts:      media.NoPTS,
		pos:      pos,
	}
	length := int(payload[4])<<8 | int(payload[5])
	end := len(payload)
	if length > 0 && 6+length < end {
		end = 6 + length
	}
	if !hasOptionalHeader(u.streamID) {
		u.data = payload[6:end]
		return u, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header truncated at %d bytes", len(payload))
	}
	headerLen := int(payload[8])
	dataStart := 9 + headerLen
	if dataStart > end {
		return nil, fmt.Errorf("mpegts: PES header of %d bytes overruns packet", headerLen)
	}
	switch payload[7] >> 6 & 0x03 {
	case 2:
		if headerLen < 5 {
			return nil, fmt.Errorf("mpegts: PES header too short for a PTS")
		}
		u.pts = parseTimestamp(payload[9:14])
	case 3:
		if headerLen < 10 {
			return nil, fmt.Errorf("mpegts: PES header too short for a PTS and DTS")
		}
		u.pts = parseTimestamp(payload[9:14])
		u.dts = parseTimestamp(payload[14:19])
	}
	u.data = payload[dataStart:end]
	return u, nil
}

// parseTimestamp reads a 33-bit PTS or DTS spread over 5 bytes with
// marker bits between the fields.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}
