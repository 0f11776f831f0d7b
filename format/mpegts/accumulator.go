package mpegts

import "sort"

// programMap remembers which PIDs carry PMT sections, learned from the
// PAT. The accumulator consults it so tables flush on section boundaries
// instead of waiting for the next payload unit start.
type programMap struct {
	pmts map[uint16]uint16
}

func newProgramMap() *programMap {
	return &programMap{pmts: make(map[uint16]uint16)}
}

func (m *programMap) setPMT(pid, program uint16) { m.pmts[pid] = program }

func (m *programMap) isPMT(pid uint16) bool {
	_, ok := m.pmts[pid]
	return ok
}

// packetAccumulator collects the transport packets of one PID until a
// payload unit completes.
type packetAccumulator struct {
	pid      uint16
	programs *programMap
	buf      []*tsPacket
	lastCC   byte
	hasCC    bool
}

func newPacketAccumulator(pid uint16, programs *programMap) *packetAccumulator {
	return &packetAccumulator{pid: pid, programs: programs}
}

// add feeds one packet in and returns a completed unit, nil otherwise.
// A unit completes when the next unit starts, or for PSI PIDs as soon as
// every announced section byte is present.
func (a *packetAccumulator) add(p *tsPacket) []*tsPacket {
	if p.header.transportError {
		// The buffered unit cannot be trusted anymore.
		a.buf = nil
		a.hasCC = false
		return nil
	}
	if !p.header.hasPayload || len(p.payload) == 0 {
		return nil
	}
	if a.hasCC && p.header.continuity == a.lastCC {
		// Duplicate transport packet.
		return nil
	}
	if a.hasCC && p.header.continuity != (a.lastCC+1)&0x0F && !p.header.discontinuity {
		// Packets were lost, so the buffered unit is incomplete.
		a.buf = nil
	}
	a.lastCC = p.header.continuity
	a.hasCC = true

	var flushed []*tsPacket
	if p.header.unitStart && len(a.buf) > 0 {
		flushed = a.buf
		a.buf = nil
	}
	a.buf = append(a.buf, p)
	if a.isPSI() && isPSIComplete(a.buf) {
		flushed = a.buf
		a.buf = nil
	}
	return flushed
}

func (a *packetAccumulator) isPSI() bool {
	return a.pid == pidPAT || a.programs.isPMT(a.pid)
}

// isPSIComplete reports whether the buffered packets hold every byte of
// the sections they announce.
func isPSIComplete(packets []*tsPacket) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) == 0 {
		return false
	}
	offset := 1 + int(payload[0])
	if offset > len(payload) {
		return false
	}
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			// Stuffing runs to the end of the payload.
			break
		}
		if offset+3 > len(payload) {
			return false
		}
		length := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		if offset+3+length > len(payload) {
			return false
		}
		offset += 3 + length
	}
	return true
}

// packetPool routes transport packets to per-PID accumulators.
type packetPool struct {
	acc      map[uint16]*packetAccumulator
	programs *programMap
}

func newPacketPool(programs *programMap) *packetPool {
	return &packetPool{
		acc:      make(map[uint16]*packetAccumulator),
		programs: programs,
	}
}

func (pp *packetPool) add(p *tsPacket) []*tsPacket {
	a, ok := pp.acc[p.header.pid]
	if !ok {
		a = newPacketAccumulator(p.header.pid, pp.programs)
		pp.acc[p.header.pid] = a
	}
	return a.add(p)
}

// dump flushes every accumulator's partial unit, ordered by PID. Called
// at end of stream so trailing units are not lost.
func (pp *packetPool) dump() [][]*tsPacket {
	pids := make([]uint16, 0, len(pp.acc))
	for pid := range pp.acc {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	var units [][]*tsPacket
	for _, pid := range pids {
		a := pp.acc[pid]
		if len(a.buf) > 0 {
			units = append(units, a.buf)
			a.buf = nil
		}
	}
	return units
}
