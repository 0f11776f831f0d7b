package mpegts

import (
	"errors"
	"fmt"
)

const (
	// packetSize is the fixed transport packet length.
	packetSize = 188

	syncByte = 0x47
)

var errBadSync = errors.New("mpegts: missing sync byte")

// tsHeader is the four-byte transport packet header plus the adaptation
// field flags the demuxer acts on.
type tsHeader struct {
	pid            uint16
	continuity     byte
	unitStart      bool
	transportError bool
	hasAdaptation  bool
	hasPayload     bool
	discontinuity  bool
	randomAccess   bool
}

// tsPacket is one parsed transport packet. The payload aliases the
// buffer handed to parsePacket, so that buffer must not be reused while
// the packet is held.
type tsPacket struct {
	header  tsHeader
	payload []byte
	pos     int64
}

// parsePacket decodes one 188-byte transport packet found at pos in the
// source.
func parsePacket(data []byte, pos int64) (*tsPacket, error) {
	if len(data) != packetSize {
		return nil, fmt.Errorf("mpegts: packet is %d bytes, want %d", len(data), packetSize)
	}
	if data[0] != syncByte {
		return nil, errBadSync
	}
	h := tsHeader{
		transportError: data[1]&0x80 != 0,
		unitStart:      data[1]&0x40 != 0,
		pid:            uint16(data[1]&0x1F)<<8 | uint16(data[2]),
		hasAdaptation:  data[3]&0x20 != 0,
		hasPayload:     data[3]&0x10 != 0,
		continuity:     data[3] & 0x0F,
	}
	offset := 4
	if h.hasAdaptation {
		afLen := int(data[4])
		if 5+afLen > packetSize {
			return nil, fmt.Errorf("mpegts: adaptation field of %d bytes overruns packet", afLen)
		}
		if afLen > 0 {
			h.discontinuity = data[5]&0x80 != 0
			h.randomAccess = data[5]&0x40 != 0
		}
		offset = 5 + afLen
	}
	p := &tsPacket{header: h, pos: pos}
	if h.hasPayload && offset < packetSize {
		p.payload = data[offset:]
	}
	return p, nil
}
