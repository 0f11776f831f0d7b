package mpegts

import (
	"bytes"
	"testing"
)

// makePacket builds a transport packet whose payload region is padded
// with 0xFF, the way PSI packets are stuffed.
func makePacket(pid uint16, cc byte, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid >> 8 & 0x1F)
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	n := copy(buf[4:], payload)
	for i := 4 + n; i < packetSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// makePacketPadded stuffs a short payload through the adaptation field,
// the way muxers pad the final packet of a PES unit.
func makePacketPadded(pid uint16, cc byte, pusi bool, payload []byte) []byte {
	if len(payload) > packetSize-5 {
		panic("payload too long for a padded packet")
	}
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid >> 8 & 0x1F)
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x30 | cc&0x0F
	stuff := packetSize - 5 - len(payload)
	buf[4] = byte(stuff)
	if stuff > 0 {
		buf[5] = 0x00
		for i := 6; i < 5+stuff; i++ {
			buf[i] = 0xFF
		}
	}
	copy(buf[5+stuff:], payload)
	return buf
}

func TestParsePacket(t *testing.T) {
	t.Parallel()

	raw := makePacket(0x100, 7, true, []byte{0xAA, 0xBB})
	p, err := parsePacket(raw, 188)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if p.header.pid != 0x100 {
		t.Errorf("pid = %#x, want 0x100", p.header.pid)
	}
	if p.header.continuity != 7 {
		t.Errorf("continuity = %d, want 7", p.header.continuity)
	}
	if !p.header.unitStart {
		t.Error("unitStart not set")
	}
	if p.header.transportError {
		t.Error("transportError set")
	}
	if p.pos != 188 {
		t.Errorf("pos = %d, want 188", p.pos)
	}
	if len(p.payload) != packetSize-4 {
		t.Errorf("payload is %d bytes, want %d", len(p.payload), packetSize-4)
	}
	if p.payload[0] != 0xAA || p.payload[1] != 0xBB {
		t.Errorf("payload starts %#x %#x", p.payload[0], p.payload[1])
	}
}

func TestParsePacketAdaptationField(t *testing.T) {
	t.Parallel()

	raw := makePacketPadded(0x1A, 3, false, []byte{0x01, 0x02, 0x03})
	p, err := parsePacket(raw, 0)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if !p.header.hasAdaptation {
		t.Error("hasAdaptation not set")
	}
	if !bytes.Equal(p.payload, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("payload = %#v", p.payload)
	}

	// Discontinuity and random access flags live in the first
	// adaptation field byte.
	raw[5] = 0xC0
	p, err = parsePacket(raw, 0)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if !p.header.discontinuity {
		t.Error("discontinuity not set")
	}
	if !p.header.randomAccess {
		t.Error("randomAccess not set")
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()

	if _, err := parsePacket(make([]byte, 100), 0); err == nil {
		t.Error("short packet accepted")
	}

	raw := makePacket(0, 0, false, nil)
	raw[0] = 0x48
	if _, err := parsePacket(raw, 0); err != errBadSync {
		t.Errorf("bad sync byte: err = %v", err)
	}

	// Adaptation field claiming more bytes than the packet holds.
	raw = makePacket(0x20, 0, false, nil)
	raw[3] = 0x30
	raw[4] = 0xFF
	if _, err := parsePacket(raw, 0); err == nil {
		t.Error("oversized adaptation field accepted")
	}
}

func TestParsePacketAdaptationOnly(t *testing.T) {
	t.Parallel()

	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = 0x00
	buf[2] = 0x40
	buf[3] = 0x20 // adaptation field, no payload
	buf[4] = 183
	p, err := parsePacket(buf, 0)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if p.header.hasPayload || p.payload != nil {
		t.Error("adaptation-only packet reports a payload")
	}
}

func FuzzParsePacket(f *testing.F) {
	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	pkt[1] = 0x40
	pkt[3] = 0x10
	f.Add(pkt)

	af := make([]byte, packetSize)
	af[0] = syncByte
	af[1] = 0x01
	af[3] = 0x30
	af[4] = 0x07
	f.Add(af)

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != packetSize {
			return
		}
		p, err := parsePacket(data, 0)
		if err != nil {
			return
		}
		if p.header.pid > 0x1FFF {
			t.Fatalf("pid %#x out of range", p.header.pid)
		}
		if len(p.payload) > packetSize-4 {
			t.Fatalf("payload of %d bytes", len(p.payload))
		}
	})
}
