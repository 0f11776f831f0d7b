// Package mpegts demuxes MPEG transport streams (ISO 13818-1).
// Transport packets are reassembled per PID into PES units, the program
// layout comes from the PAT and PMT, and elementary streams surface as
// packets on a 90 kHz clock. ADTS audio is split into one packet per AAC
// frame with the envelope stripped, matching what a raw ADTS source
// produces. The demuxer reads strictly forward, so it works on pipes and
// live feeds.
package mpegts

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mireska/weir/format"
	"github.com/mireska/weir/media"
)

const (
	// clockRate is the PES timestamp clock.
	clockRate = 90000

	// aacFrameSamples is fixed for AAC-LC.
	aacFrameSamples = 1024

	// Stream types from the PMT (ISO 13818-1 table 2-34).
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypeADTS       = 0x0F
	streamTypeH264       = 0x1B
	streamTypeH265       = 0x24

	// probeSyncCount sync bytes at packet strides count as proof.
	probeSyncCount = 5

	// maxOpenUnits bounds how far Open hunts for the program tables.
	maxOpenUnits = 4096

	// maxParamUnits bounds the read-ahead that fills in audio
	// parameters after the tables are in.
	maxParamUnits = 2048
)

// Register adds the MPEG-TS demuxer to a registry.
func Register(r *format.Registry) {
	r.Register(format.Registration{
		ID:         media.FormatMPEGTS,
		Name:       "mpegts",
		Extensions: []string{"ts", "m2ts", "mts"},
		Probe:      probe,
		New:        func() format.Demuxer { return New() },
	})
}

func probe(data []byte, name string) int {
	for start := 0; start < packetSize && start+packetSize <= len(data); start++ {
		if data[start] != syncByte {
			continue
		}
		n := 0
		for off := start; off < len(data) && data[off] == syncByte; off += packetSize {
			n++
		}
		if n >= probeSyncCount {
			if start == 0 {
				return format.ScoreMax
			}
			return format.ScoreMax - 10
		}
	}
	return 0
}

// esStream ties a PMT elementary stream to its output stream.
type esStream struct {
	index      int
	streamType byte
	stream     *format.Stream
}

// Demuxer reads MPEG transport streams.
type Demuxer struct {
	log   *slog.Logger
	alloc media.Allocator

	programs *programMap
	pool     *packetPool
	es       map[uint16]*esStream

	streams []*format.Stream
	nextPTS map[int]int64

	patSeen   bool
	pmtSeen   bool
	expectPMT bool

	pending   []*media.Packet
	drained   [][]*tsPacket
	eof       bool
	truncated error
}

func New() *Demuxer {
	return &Demuxer{}
}

func (d *Demuxer) FormatID() media.FormatID { return media.FormatMPEGTS }
func (d *Demuxer) Name() string             { return "mpegts" }

func (d *Demuxer) Open(r *format.Reader, host format.Host) error {
	d.log = host.Log
	d.alloc = host.Alloc
	d.programs = newProgramMap()
	d.pool = newPacketPool(d.programs)
	d.es = make(map[uint16]*esStream)
	d.nextPTS = make(map[int]int64)

	if err := d.align(r); err != nil {
		return err
	}

	// Hunt for the program tables, keeping any media units that arrive
	// first so they are not lost.
	var stash [][]*tsPacket
	for n := 0; !d.tablesReady(); n++ {
		if n == maxOpenUnits {
			return fmt.Errorf("mpegts: no program tables in the first %d units: %w", n, media.ErrInvalidParameters)
		}
		unit, err := d.readUnit(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			if d.eof {
				d.truncated = err
				break
			}
			return err
		}
		if !d.handlePSI(unit) {
			stash = append(stash, unit)
		}
	}
	if !d.patSeen {
		return fmt.Errorf("mpegts: no program association table: %w", media.ErrInvalidParameters)
	}
	if d.expectPMT && !d.pmtSeen {
		return fmt.Errorf("mpegts: program map never arrived: %w", media.ErrInvalidParameters)
	}

	for _, unit := range stash {
		d.pending = append(d.pending, d.convertUnit(unit)...)
	}

	// Read a little further so ADTS streams report their sample rate
	// and channel count before the first packet is pulled.
	for n := 0; n < maxParamUnits && d.needsParams(); n++ {
		unit, err := d.readUnit(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			if d.eof {
				d.truncated = err
				break
			}
			return err
		}
		d.pending = append(d.pending, d.convertUnit(unit)...)
	}

	d.log.Debug("transport stream opened", "streams", len(d.streams), "buffered", len(d.pending))
	return nil
}

func (d *Demuxer) tablesReady() bool {
	return d.patSeen && (!d.expectPMT || d.pmtSeen)
}

func (d *Demuxer) needsParams() bool {
	for _, es := range d.es {
		if es.streamType == streamTypeADTS && es.stream.SampleRate == 0 {
			return true
		}
	}
	return false
}

// align skips leading junk so reads land on packet boundaries. It wants
// a sync byte whose next packet boundary also syncs; damage deeper in
// the stream is the read loop's problem.
func (d *Demuxer) align(r *format.Reader) error {
	window, _ := r.Peek(2*packetSize + 1)
	if len(window) < packetSize {
		return fmt.Errorf("mpegts: source shorter than one transport packet: %w", media.ErrInvalidParameters)
	}
	for start := 0; start < packetSize && start+packetSize <= len(window); start++ {
		if window[start] != syncByte {
			continue
		}
		if next := start + packetSize; next < len(window) && window[next] != syncByte {
			continue
		}
		if start > 0 {
			d.log.Debug("skipped bytes before first sync", "bytes", start)
			if err := r.Skip(int64(start)); err != nil {
				return fmt.Errorf("mpegts: skipping to first sync byte: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("mpegts: no transport packet sync: %w", media.ErrInvalidParameters)
}

// readUnit pumps transport packets until some PID completes a payload
// unit. At end of input the accumulators drain in PID order, then any
// truncation surfaces, then io.EOF.
func (d *Demuxer) readUnit(r *format.Reader) ([]*tsPacket, error) {
	for {
		if len(d.drained) > 0 {
			unit := d.drained[0]
			d.drained = d.drained[1:]
			return unit, nil
		}
		if d.truncated != nil {
			err := d.truncated
			d.truncated = nil
			return nil, err
		}
		if d.eof {
			return nil, io.EOF
		}

		pos := r.Position()
		buf := make([]byte, packetSize)
		if err := r.ReadFull(buf); err != nil {
			if err == io.EOF {
				d.endStream(nil)
			} else if err == io.ErrUnexpectedEOF {
				d.endStream(fmt.Errorf("mpegts: truncated transport packet at offset %d: %w", pos, err))
			} else {
				return nil, fmt.Errorf("mpegts: reading transport packet: %w", err)
			}
			continue
		}

		p, perr := parsePacket(buf, pos)
		if perr == errBadSync {
			shift := bytes.IndexByte(buf[1:], syncByte) + 1
			if shift == 0 {
				d.log.Warn("lost sync", "offset", pos, "skipped", packetSize)
				continue
			}
			d.log.Warn("lost sync", "offset", pos, "skipped", shift)
			copy(buf, buf[shift:])
			if err := r.ReadFull(buf[packetSize-shift:]); err != nil {
				d.endStream(fmt.Errorf("mpegts: truncated transport packet at offset %d: %w", pos+int64(shift), io.ErrUnexpectedEOF))
				continue
			}
			p, perr = parsePacket(buf, pos+int64(shift))
		}
		if perr != nil {
			d.log.Warn("dropping malformed transport packet", "offset", pos, "err", perr)
			continue
		}
		if p.header.pid == pidNull {
			continue
		}
		if unit := d.pool.add(p); unit != nil {
			return unit, nil
		}
	}
}

// endStream records end of input and queues whatever the accumulators
// still hold.
func (d *Demuxer) endStream(trunc error) {
	d.eof = true
	if trunc != nil {
		d.truncated = trunc
	}
	d.drained = d.pool.dump()
}

// handlePSI parses PAT and PMT units. It reports whether the unit
// belonged to a PSI PID.
func (d *Demuxer) handlePSI(unit []*tsPacket) bool {
	pid := unit[0].header.pid
	if pid != pidPAT && !d.programs.isPMT(pid) {
		return false
	}
	payload, _ := assemble(unit)
	for _, section := range splitSections(payload) {
		switch {
		case pid == pidPAT && section[0] == tableIDPAT:
			entries, err := parsePAT(section)
			if err != nil {
				d.log.Warn("bad program association table", "err", err)
				continue
			}
			d.patSeen = true
			for _, e := range entries {
				d.expectPMT = true
				d.programs.setPMT(e.pmtPID, e.program)
			}
		case section[0] == tableIDPMT:
			if d.pmtSeen {
				continue
			}
			list, err := parsePMT(section)
			if err != nil {
				d.log.Warn("bad program map table", "err", err)
				continue
			}
			d.pmtSeen = true
			d.buildStreams(list)
		default:
			d.log.Debug("ignoring table", "id", section[0], "pid", pid)
		}
	}
	return true
}

// buildStreams materializes the stream table from the first PMT. The
// first program wins; PMT updates after that are ignored.
func (d *Demuxer) buildStreams(list []pmtStream) {
	for _, es := range list {
		var s *format.Stream
		switch es.streamType {
		case streamTypeADTS:
			s = &format.Stream{
				MediaType: media.MediaTypeAudio,
				CodecID:   media.CodecAAC,
				FrameSize: aacFrameSamples,
			}
		case streamTypeMPEG1Audio, streamTypeMPEG2Audio:
			s = &format.Stream{
				MediaType: media.MediaTypeAudio,
				CodecID:   media.CodecMP3,
			}
		case streamTypeH264:
			s = &format.Stream{
				MediaType: media.MediaTypeVideo,
				CodecID:   media.CodecH264,
			}
		case streamTypeH265:
			s = &format.Stream{
				MediaType: media.MediaTypeVideo,
				CodecID:   media.CodecH265,
			}
		default:
			d.log.Debug("ignoring unsupported stream type",
				"type", fmt.Sprintf("%#02x", es.streamType), "pid", es.pid)
			continue
		}
		s.Index = len(d.streams)
		s.TimeBase = media.NewRational(1, clockRate)
		s.Duration = media.NoPTS
		d.streams = append(d.streams, s)
		d.es[es.pid] = &esStream{index: s.Index, streamType: es.streamType, stream: s}
	}
}

func (d *Demuxer) Streams() []*format.Stream {
	return d.streams
}

func (d *Demuxer) ReadPacket(r *format.Reader) (*media.Packet, error) {
	for {
		if len(d.pending) > 0 {
			pkt := d.pending[0]
			d.pending = d.pending[1:]
			return pkt, nil
		}
		unit, err := d.readUnit(r)
		if err != nil {
			return nil, err
		}
		d.pending = append(d.pending, d.convertUnit(unit)...)
	}
}

// convertUnit turns one accumulated unit into zero or more packets.
// Units on unmapped PIDs and units that do not parse as PES are
// dropped, the stream keeps going.
func (d *Demuxer) convertUnit(unit []*tsPacket) []*media.Packet {
	if len(unit) == 0 {
		return nil
	}
	if d.handlePSI(unit) {
		return nil
	}
	es, ok := d.es[unit[0].header.pid]
	if !ok {
		return nil
	}
	payload, pos := assemble(unit)
	u, err := parsePES(payload, pos)
	if err != nil {
		d.log.Warn("dropping unit without a usable PES header",
			"pid", unit[0].header.pid, "bytes", len(payload), "err", err)
		return nil
	}
	if len(u.data) == 0 {
		return nil
	}
	if es.streamType == streamTypeADTS {
		return d.convertADTS(es, u)
	}

	dts := u.dts
	if dts == media.NoPTS {
		dts = u.pts
	}
	keyframe := true
	if es.stream.MediaType == media.MediaTypeVideo {
		keyframe = unit[0].header.randomAccess || keyframeNAL(es.stream.CodecID, u.data)
	}
	pkt := media.NewPacket(d.alloc, u.data, media.PacketParams{
		StreamIndex: es.index,
		PTS:         u.pts,
		DTS:         dts,
		TimeBase:    media.NewRational(1, clockRate),
		Keyframe:    keyframe,
		Pos:         u.pos,
	})
	return []*media.Packet{pkt}
}

// convertADTS splits a PES payload into AAC frames and spreads the PES
// timestamp across them at the stream's sample rate. A unit without a
// timestamp continues the stream's running clock.
func (d *Demuxer) convertADTS(es *esStream, u *pesUnit) []*media.Packet {
	frames := splitADTS(u.data)
	if len(frames) == 0 {
		d.log.Warn("audio unit holds no complete frames", "stream", es.index, "bytes", len(u.data))
		return nil
	}
	f0 := frames[0]
	if es.stream.SampleRate == 0 && f0.sampleRate > 0 {
		es.stream.SampleRate = f0.sampleRate
		es.stream.Channels = f0.channels
		es.stream.ChannelLayout = media.LayoutFromChannels(f0.channels)
		es.stream.ExtraData = audioSpecificConfig(f0.objectType, f0.rateIndex, f0.chanConfig)
	}

	var step int64
	if f0.sampleRate > 0 {
		step = media.Rescale(aacFrameSamples,
			media.NewRational(1, f0.sampleRate), media.NewRational(1, clockRate))
	}
	pts := u.pts
	if pts == media.NoPTS {
		pts = d.nextPTS[es.index]
	}
	out := make([]*media.Packet, 0, len(frames))
	for _, f := range frames {
		out = append(out, media.NewPacket(d.alloc, f.data, media.PacketParams{
			StreamIndex: es.index,
			PTS:         pts,
			DTS:         pts,
			Duration:    step,
			TimeBase:    media.NewRational(1, clockRate),
			Keyframe:    true,
			Pos:         u.pos,
		}))
		pts += step
	}
	d.nextPTS[es.index] = pts
	return out
}

// keyframeNAL reports whether an access unit contains an IDR or IRAP
// slice.
func keyframeNAL(id media.CodecID, data []byte) bool {
	for i := 0; i+4 <= len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		n := i + 2
		if data[n] == 0x00 {
			n++
		}
		if n+1 >= len(data) || data[n] != 0x01 {
			continue
		}
		nal := data[n+1]
		switch id {
		case media.CodecH264:
			if nal&0x1F == 5 {
				return true
			}
		case media.CodecH265:
			if t := nal >> 1 & 0x3F; t >= 16 && t <= 21 {
				return true
			}
		}
		i = n + 1
	}
	return false
}

// Duration is unknown for transport streams; they carry no index and
// are unbounded when live.
func (d *Demuxer) Duration() (time.Duration, bool) {
	return 0, false
}

func (d *Demuxer) Seek(r *format.Reader, streamIndex int, ts int64) error {
	return fmt.Errorf("mpegts: seek in a transport stream: %w", media.ErrUnsupported)
}

func (d *Demuxer) Metadata() map[string]string { return nil }
